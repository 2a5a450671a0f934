package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RequestOptions 描述需要高级 HTTP 能力（认证、代理、重定向控制、自定义头）时的回源参数。
type RequestOptions struct {
	Timeout      time.Duration
	Username     string
	Password     string
	Proxy        string
	MaxRedirects int
	UserAgent    string
	Headers      map[string]string
}

// RequestSource 为每个请求套用 RequestOptions，契约与 HTTPSource 一致。
type RequestSource struct {
	client *http.Client
	opts   RequestOptions
}

// ErrTooManyRedirects 表示超过 MaxRedirects 限制。
var ErrTooManyRedirects = errors.New("stopped after too many redirects")

// NewRequestSource 基于 opts 构造独立 transport 的 http.Client。
func NewRequestSource(opts RequestOptions) (*RequestSource, error) {
	base := NewUpstreamClient(opts.Timeout)
	transport := base.Transport.(*http.Transport)
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	maxRedirects := opts.MaxRedirects
	base.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return ErrTooManyRedirects
		}
		// 跨域重定向时 net/http 会丢弃 Authorization，这里按同源规则重新附加。
		if opts.Username != "" && req.URL.Host == via[0].URL.Host {
			req.SetBasicAuth(opts.Username, opts.Password)
		}
		return nil
	}

	return &RequestSource{client: base, opts: opts}, nil
}

func (s *RequestSource) Fetch(ctx context.Context, identifier string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		return nil, transportError(identifier, err)
	}
	for name, value := range s.opts.Headers {
		req.Header.Set(name, value)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	return doGet(s.client, req, identifier)
}
