package fetcher

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/client"
)

// FiberSource 基于 Fiber 的高层 HTTP 客户端回源。底层 fasthttp 会先读完整个正文，
// 因此适合中小体积资源；返回的 Stream 从内存副本读取。
type FiberSource struct {
	client  *client.Client
	timeout time.Duration
}

// NewFiberSource 构造 FiberSource；cc 为空时创建默认客户端。
func NewFiberSource(cc *client.Client, timeout time.Duration) *FiberSource {
	if cc == nil {
		cc = client.New()
	}
	if timeout > 0 {
		cc.SetTimeout(timeout)
	}
	return &FiberSource{client: cc, timeout: timeout}
}

func (s *FiberSource) Fetch(ctx context.Context, identifier string) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(identifier, err)
	}

	resp, err := s.client.Get(identifier, client.Config{Ctx: ctx})
	if err != nil {
		return nil, transportError(identifier, err)
	}
	defer resp.Close()

	if resp.StatusCode() != fiber.StatusOK {
		return nil, statusError(identifier, resp.StatusCode())
	}

	// Close 后 fasthttp 会复用底层缓冲区，必须先拷贝正文。
	body := append([]byte(nil), resp.Body()...)
	return &Stream{
		Body:   io.NopCloser(bytes.NewReader(body)),
		Length: parseContentLength(resp.Header(fiber.HeaderContentLength)),
	}, nil
}
