package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// PendingDirName 是暂存区子目录名，外部消费者不得把其中文件当作缓存条目。
const PendingDirName = "pending"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// logger 为空时使用 logrus 标准 logger。
func NewStore(basePath string, logger *logrus.Logger) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, newStoreError("mkdir", abs, err)
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &fileStore{basePath: abs}
	s.staging = newStagingArea(filepath.Join(abs, PendingDirName), s, logger)
	return s, nil
}

// fileStore 不对 key 加锁：同一 key 的并发写入各自暂存，最后一次 rename 生效。
type fileStore struct {
	basePath string
	staging  *StagingArea
}

func (s *fileStore) Get(ctx context.Context, key Key) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.EntryPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, newStoreError("open", filePath, err)
	}

	// 基于已打开的句柄取 Size，保证与 Reader 读到的内容一致（rename 不影响已打开文件）。
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newStoreError("stat", filePath, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	entry := Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key Key, body io.Reader) (*Entry, error) {
	if _, err := s.EntryPath(key); err != nil {
		return nil, err
	}
	if err := s.staging.EnsureReady(); err != nil {
		return nil, err
	}

	pending, err := s.staging.Create()
	if err != nil {
		return nil, err
	}

	written, err := copyWithContext(ctx, pending, body)
	if err != nil {
		s.staging.Discard(pending)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, newStoreError("write", pending.Path(), err)
	}

	if err := s.staging.Commit(pending, key); err != nil {
		return nil, err
	}

	filePath, _ := s.EntryPath(key)
	entry := Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: written,
	}
	if info, err := os.Stat(filePath); err == nil {
		entry.ModTime = info.ModTime()
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	filePath, err := s.EntryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newStoreError("remove", filePath, err)
	}
	return nil
}

func (s *fileStore) EntryPath(key Key) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid cache key: %q", string(key))
	}
	return filepath.Join(s.basePath, string(key)), nil
}

func (s *fileStore) Staging() *StagingArea {
	return s.staging
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
