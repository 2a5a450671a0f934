package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 transport 的 http.Client。timeout 只约束建连与响应头，
// 不限制正文读取时长，避免大文件下载被中途切断。
func NewUpstreamClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// HTTPSource 直接使用 net/http 发起 GET，是 Downloader 的默认回源实现。
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource 构造 HTTPSource；client 为空时使用 NewUpstreamClient 的默认配置。
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = NewUpstreamClient(0)
	}
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, identifier string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		return nil, transportError(identifier, err)
	}
	return doGet(s.client, req, identifier)
}

// doGet 执行请求并按统一契约转换响应：仅 200 视为成功。
func doGet(client *http.Client, req *http.Request, identifier string) (*Stream, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(identifier, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError(identifier, resp.StatusCode)
	}

	length := UnknownLength
	if resp.ContentLength >= 0 {
		length = resp.ContentLength
	}
	return &Stream{Body: resp.Body, Length: length}, nil
}
