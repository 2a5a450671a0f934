package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供标识符/缓存键/命中状态字段，供下载流程日志复用。
func FetchFields(identifier, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"identifier": identifier,
		"key":        key,
		"cache_hit":  cacheHit,
	}
}
