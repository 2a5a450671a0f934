package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type entryPather interface {
	EntryPath(key Key) (string, error)
}

// StagingArea 管理 pending 目录：每次回源写入独占一个唯一命名的暂存文件，
// 完整写完后通过 rename 原子发布到缓存目录。
type StagingArea struct {
	dir    string
	paths  entryPather
	logger *logrus.Logger
}

func newStagingArea(dir string, paths entryPather, logger *logrus.Logger) *StagingArea {
	return &StagingArea{dir: dir, paths: paths, logger: logger}
}

// Dir 返回暂存目录的绝对路径。
func (a *StagingArea) Dir() string {
	return a.dir
}

// EnsureReady 幂等创建暂存目录，已存在视为成功，可被并发调用。
func (a *StagingArea) EnsureReady() error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return newStoreError("mkdir", a.dir, err)
	}
	return nil
}

// StagingEntry 是单个进行中写入的暂存文件，只归属一次回源。
// Write 与 Close 可以来自不同 goroutine。
type StagingEntry struct {
	name   string
	path   string
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Name 返回暂存文件名（UUIDv7，按时间有序）。
func (e *StagingEntry) Name() string {
	return e.name
}

// Path 返回暂存文件的绝对路径。
func (e *StagingEntry) Path() string {
	return e.path
}

func (e *StagingEntry) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, fs.ErrClosed
	}
	return e.file.Write(p)
}

// Close 关闭底层文件句柄，可重复调用。
func (e *StagingEntry) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.file.Close()
}

// Create 在暂存目录下创建新的唯一条目。名称来自 UUIDv7，
// 并以 O_EXCL 打开，任何并发回源（包括同一标识符）都不会共享条目。
func (a *StagingArea) Create() (*StagingEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, newStoreError("create", a.dir, fmt.Errorf("generate staging name: %w", err))
	}
	name := id.String()
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, newStoreError("create", path, err)
	}
	return &StagingEntry{name: name, path: path, file: f}, nil
}

// Commit 关闭暂存文件并 rename 到 key 的最终路径，目标已存在时直接覆盖。
// 失败时暂存文件会被清理。
func (a *StagingArea) Commit(entry *StagingEntry, key Key) error {
	if entry == nil {
		return errors.New("staging entry required")
	}
	dest, err := a.paths.EntryPath(key)
	if err != nil {
		a.Discard(entry)
		return err
	}
	if err := entry.Close(); err != nil {
		a.Discard(entry)
		return newStoreError("write", entry.path, err)
	}
	if err := os.Rename(entry.path, dest); err != nil {
		a.Discard(entry)
		return newStoreError("rename", dest, err)
	}

	a.logger.WithFields(logrus.Fields{
		"action":  "staging_commit",
		"key":     key.String(),
		"staging": entry.name,
	}).Debug("staging_commit")
	return nil
}

// Discard 尽力删除暂存条目，失败只记录日志，不向调用方返回错误。
func (a *StagingArea) Discard(entry *StagingEntry) {
	if entry == nil {
		return
	}
	closeErr := entry.Close()
	err := os.Remove(entry.path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	if err == nil && closeErr != nil && !errors.Is(closeErr, fs.ErrClosed) {
		err = closeErr
	}
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "staging_discard",
			"staging": entry.name,
		}).Warn("staging_discard_failed")
	}
}
