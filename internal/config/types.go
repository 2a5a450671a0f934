package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 回源策略，与 fetcher 包中的实现一一对应。
const (
	StrategyHTTP    = "http"
	StrategyFiber   = "fiber"
	StrategyRequest = "request"
)

// GlobalConfig 描述全局运行时行为，CLI 与 HTTP 前端共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	KeyAlgorithm  string `mapstructure:"KeyAlgorithm"`
	// BufferLimit 限制 tee 每个分支的缓冲字节数，0 表示不限制。
	BufferLimit int64 `mapstructure:"BufferLimit"`
}

// FetcherConfig 决定回源客户端的行为。
type FetcherConfig struct {
	Strategy     string            `mapstructure:"Strategy"`
	Timeout      Duration          `mapstructure:"Timeout"`
	Username     string            `mapstructure:"Username"`
	Password     string            `mapstructure:"Password"`
	Proxy        string            `mapstructure:"Proxy"`
	MaxRedirects int               `mapstructure:"MaxRedirects"`
	UserAgent    string            `mapstructure:"UserAgent"`
	Headers      map[string]string `mapstructure:"Headers"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Fetcher FetcherConfig `mapstructure:"Fetcher"`
}

// HasCredentials 表示是否配置了完整的上游凭证。
func (f FetcherConfig) HasCredentials() bool {
	return f.Username != "" && f.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (f FetcherConfig) AuthMode() string {
	if f.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}
