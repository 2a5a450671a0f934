package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，CLI 在未提供配置文件时使用。
func Default() *Config {
	cfg := &Config{
		Global: GlobalConfig{
			ListenPort:    5000,
			LogLevel:      "info",
			LogMaxSize:    100,
			LogMaxBackups: 10,
			LogCompress:   true,
			StoragePath:   "./storage",
		},
		Fetcher: FetcherConfig{
			MaxRedirects: 10,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("KeyAlgorithm", "md5")
	v.SetDefault("BufferLimit", 0)
	v.SetDefault("Fetcher.Strategy", StrategyHTTP)
	v.SetDefault("Fetcher.Timeout", "30s")
	v.SetDefault("Fetcher.MaxRedirects", 10)
}

func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.KeyAlgorithm = strings.ToLower(strings.TrimSpace(g.KeyAlgorithm))
	if g.KeyAlgorithm == "" {
		g.KeyAlgorithm = "md5"
	}

	f := &cfg.Fetcher
	f.Strategy = strings.ToLower(strings.TrimSpace(f.Strategy))
	if f.Strategy == "" {
		f.Strategy = StrategyHTTP
	}
	if f.Timeout.DurationValue() == 0 {
		f.Timeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
