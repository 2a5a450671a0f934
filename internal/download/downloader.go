package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/dlcache/internal/cache"
	"github.com/any-hub/dlcache/internal/fetcher"
	"github.com/any-hub/dlcache/internal/logging"
)

// Options 汇总 Downloader 的依赖，便于测试注入桩实现。
type Options struct {
	Store  cache.Store
	Keys   cache.KeyDeriver
	Source fetcher.Source
	Logger *logrus.Logger
	// BufferLimit 限制 tee 每个分支可积压的字节数，0 表示不限制。
	BufferLimit int64
}

// Downloader 负责 orchestrate “缓存命中 → 回源 → 暂存 → 原子提交” 的全流程。
// 同一标识符的并发回源不加锁，各自暂存，最后完成 rename 的一方决定缓存内容。
type Downloader struct {
	store       cache.Store
	keys        cache.KeyDeriver
	source      fetcher.Source
	logger      *logrus.Logger
	bufferLimit int64

	wg sync.WaitGroup
}

// New 构造 Downloader；Source 为空时默认使用 HTTP GET 回源。
func New(opts Options) (*Downloader, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.BufferLimit < 0 {
		return nil, fmt.Errorf("invalid buffer limit: %d", opts.BufferLimit)
	}
	if opts.Source == nil {
		opts.Source = fetcher.NewHTTPSource(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Downloader{
		store:       opts.Store,
		keys:        opts.Keys,
		source:      opts.Source,
		logger:      opts.Logger,
		bufferLimit: opts.BufferLimit,
	}, nil
}

// Stream 是返回给调用方的字节流。Length 为 fetcher.UnknownLength 时长度未知。
type Stream struct {
	io.ReadCloser
	Length   int64
	CacheHit bool
	Key      cache.Key

	done chan struct{}
	err  error
}

// Wait 阻塞直到后台暂存分支结束，返回提交结果；缓存命中时立即返回 nil。
// 暂存失败不会影响调用方已拿到的正文。
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Key 返回 identifier 对应的缓存键。
func (d *Downloader) Key(identifier string) cache.Key {
	return d.keys.Derive(identifier)
}

// Fetch 返回 identifier 的正文流：命中时直接读取缓存文件，未命中时回源并
// 同时写入暂存区，写入完整后再提交到缓存。回源错误原样返回，不做重试。
func (d *Downloader) Fetch(ctx context.Context, identifier string) (*Stream, error) {

	staging := d.store.Staging()
	if err := staging.EnsureReady(); err != nil {
		return nil, err
	}

	key := d.keys.Derive(identifier)
	cached, err := d.store.Get(ctx, key)
	switch {
	case err == nil:
		d.logger.WithFields(logging.FetchFields(identifier, key.String(), true)).
			WithField("size_bytes", cached.Entry.SizeBytes).
			Debug("cache_hit")
		done := make(chan struct{})
		close(done)
		return &Stream{
			ReadCloser: cached.Reader,
			Length:     cached.Entry.SizeBytes,
			CacheHit:   true,
			Key:        key,
			done:       done,
		}, nil
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	default:
		return nil, err
	}

	fields := logging.FetchFields(identifier, key.String(), false)
	upstream, err := d.source.Fetch(ctx, identifier)
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("upstream_failed")
		return nil, err
	}

	pending, err := staging.Create()
	if err != nil {
		upstream.Body.Close()
		return nil, err
	}

	f := newFork(upstream.Body, upstream.Length, d.bufferLimit)
	stream := &Stream{
		ReadCloser: callerStream{f: f},
		Length:     upstream.Length,
		Key:        key,
		done:       make(chan struct{}),
	}

	d.logger.WithFields(fields).
		WithFields(logrus.Fields{"content_length": upstream.Length, "staging": pending.Name()}).
		Debug("cache_miss")

	d.wg.Add(1)
	go d.populate(identifier, key, pending, f.writer, stream)
	go f.pump()

	return stream, nil
}

// populate 把写入分支落盘到暂存文件，完整结束后提交；任何错误都只丢弃暂存。
func (d *Downloader) populate(identifier string, key cache.Key, pending *cache.StagingEntry, writer *branch, stream *Stream) {
	defer d.wg.Done()
	defer close(stream.done)

	staging := d.store.Staging()
	fields := logging.FetchFields(identifier, key.String(), false)

	written, err := io.Copy(pending, writer)
	if err != nil {
		writer.detach()
		staging.Discard(pending)
		stream.err = err
		d.logger.WithError(err).WithFields(fields).Warn("staging_aborted")
		return
	}

	if err := staging.Commit(pending, key); err != nil {
		stream.err = err
		d.logger.WithError(err).WithFields(fields).Error("staging_commit_failed")
		return
	}

	d.logger.WithFields(fields).WithField("size_bytes", written).Info("cache_populated")
}

// Clear 删除 identifier 对应的缓存条目；条目不存在同样视为成功。
func (d *Downloader) Clear(ctx context.Context, identifier string) error {
	key := d.keys.Derive(identifier)
	if err := d.store.Remove(ctx, key); err != nil {
		return err
	}
	d.logger.WithFields(logging.FetchFields(identifier, key.String(), false)).Debug("cache_cleared")
	return nil
}

// Wait 阻塞直到所有进行中的暂存写入完成（提交或丢弃）。
func (d *Downloader) Wait() {
	d.wg.Wait()
}
