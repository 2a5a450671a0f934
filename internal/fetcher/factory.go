package fetcher

import (
	"fmt"

	"github.com/any-hub/dlcache/internal/config"
)

// New 根据配置选择回源策略。
func New(cfg config.FetcherConfig) (Source, error) {
	timeout := cfg.Timeout.DurationValue()
	switch cfg.Strategy {
	case "", config.StrategyHTTP:
		return NewHTTPSource(NewUpstreamClient(timeout)), nil
	case config.StrategyFiber:
		return NewFiberSource(nil, timeout), nil
	case config.StrategyRequest:
		src, err := NewRequestSource(RequestOptions{
			Timeout:      timeout,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Proxy:        cfg.Proxy,
			MaxRedirects: cfg.MaxRedirects,
			UserAgent:    cfg.UserAgent,
			Headers:      cfg.Headers,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher strategy: %s", cfg.Strategy)
	}
}
