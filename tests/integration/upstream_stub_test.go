package integration

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/dlcache/internal/cache"
	"github.com/any-hub/dlcache/internal/config"
	"github.com/any-hub/dlcache/internal/download"
	"github.com/any-hub/dlcache/internal/fetcher"
	"github.com/any-hub/dlcache/internal/logging"
	"github.com/any-hub/dlcache/internal/server"
)

// upstreamStub 模拟一个可变内容的文件源，记录请求次数与请求头，供集成测试复用。
type upstreamStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	bodies   map[string][]byte
	hits     map[string]int
	requests []RecordedRequest
}

// RecordedRequest 捕获每次请求的路径与 Headers，便于断言回源行为。
type RecordedRequest struct {
	Path    string
	Headers http.Header
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()

	stub := &upstreamStub{
		bodies: make(map[string][]byte),
		hits:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/truncated", func(w http.ResponseWriter, r *http.Request) {
		// 声明 64 字节但只写出一部分后断开连接。
		w.Header().Set("Content-Length", "64")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial_data"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := stub.body(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		mux.ServeHTTP(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start upstream stub listener: %v", err)
	}
	stub.server = &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)

	return stub
}

func (s *upstreamStub) Close() {
	_ = s.server.Close()
}

// SetBody 更新某个路径的内容，模拟上游文件变化。
func (s *upstreamStub) SetBody(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = append([]byte(nil), body...)
}

// Hits 返回某个路径被请求的次数。
func (s *upstreamStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Requests 返回已记录请求的副本。
func (s *upstreamStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *upstreamStub) body(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[path]
	return body, ok
}

func (s *upstreamStub) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++
	s.requests = append(s.requests, RecordedRequest{
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
	})
}

// testConfig 构造指向临时缓存目录的最小配置。
func testConfig(t *testing.T, strategy string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Global.StoragePath = t.TempDir()
	cfg.Fetcher.Strategy = strategy
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	return cfg
}

// newDownloader 按 CLI 相同的装配顺序构建 Downloader。
func newDownloader(t *testing.T, cfg *config.Config) (*download.Downloader, cache.Store) {
	t.Helper()

	logger := logging.NewDiscardLogger()
	store, err := cache.NewStore(cfg.Global.StoragePath, logger)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	keys, err := cache.NewKeyDeriver(cfg.Global.KeyAlgorithm)
	if err != nil {
		t.Fatalf("key deriver error: %v", err)
	}
	source, err := fetcher.New(cfg.Fetcher)
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	dl, err := download.New(download.Options{
		Store:       store,
		Keys:        keys,
		Source:      source,
		Logger:      logger,
		BufferLimit: cfg.Global.BufferLimit,
	})
	if err != nil {
		t.Fatalf("downloader error: %v", err)
	}
	return dl, store
}

func newApp(t *testing.T, cfg *config.Config, dl *download.Downloader) *fiber.App {
	t.Helper()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.NewDiscardLogger(),
		Downloader: dl,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app
}
