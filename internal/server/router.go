package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/dlcache/internal/cache"
	"github.com/any-hub/dlcache/internal/download"
	"github.com/any-hub/dlcache/internal/fetcher"
	"github.com/any-hub/dlcache/internal/logging"
)

// Downloader describes the cache orchestrator used by the HTTP handlers. It
// allows injecting fake implementations during tests.
type Downloader interface {
	Fetch(ctx context.Context, identifier string) (*download.Stream, error)
	Clear(ctx context.Context, identifier string) error
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Downloader Downloader
	ListenPort int
}

const contextKeyRequestID = "_dlcache_request_id"

// NewApp builds a Fiber application exposing fetch/clear endpoints with
// request IDs and structured error responses.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	h := &handler{downloader: opts.Downloader, logger: opts.Logger}
	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/fetch", h.fetch)
	app.Delete("/cache", h.clear)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

type handler struct {
	downloader Downloader
	logger     *logrus.Logger
}

func (h *handler) fetch(c fiber.Ctx) error {
	started := time.Now()
	identifier := strings.TrimSpace(c.Query("id"))
	if identifier == "" {
		return writeError(c, fiber.StatusBadRequest, "missing_id", nil)
	}

	stream, err := h.downloader.Fetch(requestContext(c), identifier)
	if err != nil {
		h.logResult(c, identifier, "", false, started, err)
		return h.renderFetchError(c, err)
	}

	c.Set("X-Dlcache-Cache-Hit", fmt.Sprintf("%t", stream.CacheHit))
	c.Set("X-Dlcache-Key", stream.Key.String())
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Status(fiber.StatusOK)
	h.logResult(c, identifier, stream.Key.String(), stream.CacheHit, started, nil)

	// fasthttp 在写完正文后会调用 stream.Close。
	if stream.Length != fetcher.UnknownLength {
		return c.SendStream(stream, int(stream.Length))
	}
	return c.SendStream(stream)
}

func (h *handler) clear(c fiber.Ctx) error {
	identifier := strings.TrimSpace(c.Query("id"))
	if identifier == "" {
		return writeError(c, fiber.StatusBadRequest, "missing_id", nil)
	}
	if err := h.downloader.Clear(requestContext(c), identifier); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "clear",
			"identifier": identifier,
			"request_id": RequestID(c),
		}).Error("cache_clear_failed")
		return h.renderFetchError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) renderFetchError(c fiber.Ctx, err error) error {
	var fetchErr *fetcher.FetchError
	var storeErr *cache.StoreError
	switch {
	case errors.As(err, &fetchErr) && fetchErr.IsStatus():
		return writeError(c, fiber.StatusBadGateway, "upstream_failed", fiber.Map{"status": fetchErr.Status})
	case errors.As(err, &fetchErr):
		return writeError(c, fiber.StatusBadGateway, "upstream_unreachable", nil)
	case errors.As(err, &storeErr):
		return writeError(c, fiber.StatusInternalServerError, "cache_unavailable", nil)
	default:
		return writeError(c, fiber.StatusInternalServerError, "internal_error", nil)
	}
}

func (h *handler) logResult(c fiber.Ctx, identifier, key string, cacheHit bool, started time.Time, err error) {
	fields := logging.FetchFields(identifier, key, cacheHit)
	fields["action"] = "fetch"
	fields["request_id"] = RequestID(c)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	entry := h.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("fetch_failed")
		return
	}
	entry.Info("fetch_started")
}

func writeError(c fiber.Ctx, status int, code string, extra fiber.Map) error {
	body := fiber.Map{"error": code}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

// requestContext 返回请求级 context；流式正文在 handler 返回后才发送，
// 因此不能使用随 handler 结束而取消的 context。
func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
