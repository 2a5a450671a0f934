package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedKeyAlgorithms = map[string]struct{}{
	"md5":    {},
	"sha256": {},
	"blake3": {},
}

var supportedStrategies = map[string]struct{}{
	StrategyHTTP:    {},
	StrategyFiber:   {},
	StrategyRequest: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if _, ok := supportedKeyAlgorithms[g.KeyAlgorithm]; !ok {
		return newFieldError("Global.KeyAlgorithm", "仅支持 md5|sha256|blake3")
	}
	if g.BufferLimit < 0 {
		return newFieldError("Global.BufferLimit", "不能为负数")
	}

	f := c.Fetcher
	if _, ok := supportedStrategies[f.Strategy]; !ok {
		return newFieldError("Fetcher.Strategy", "仅支持 http|fiber|request")
	}
	if f.Timeout.DurationValue() <= 0 {
		return newFieldError("Fetcher.Timeout", "必须大于 0")
	}
	if f.MaxRedirects < 0 {
		return newFieldError("Fetcher.MaxRedirects", "不能为负数")
	}
	if (f.Username == "") != (f.Password == "") {
		return newFieldError("Fetcher.Username/Password", "必须同时提供或同时留空")
	}
	if f.Proxy != "" {
		if err := validateProxy(f.Proxy); err != nil {
			return fmt.Errorf("Fetcher.Proxy: %w", err)
		}
	}
	for name := range f.Headers {
		if strings.TrimSpace(name) == "" {
			return newFieldError("Fetcher.Headers", "Header 名称不能为空")
		}
	}

	return nil
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效 URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "socks5" {
		return fmt.Errorf("仅支持 http/https/socks5")
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host")
	}
	return nil
}
