package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>                # 已提交的完整正文
//	<StoragePath>/pending/<uuid>       # 进行中的下载，从不对外提供
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的缓存条目及其准确字节数。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*ReadResult, error)

	// Put 同步写入缓存正文：先落入 pending，再 rename 到最终路径，失败时清理暂存文件。
	Put(ctx context.Context, key Key, body io.Reader) (*Entry, error)

	// Remove 删除正文文件；条目不存在视为成功。
	Remove(ctx context.Context, key Key) error

	// EntryPath 返回 key 对应的最终路径，供暂存提交时 rename。
	EntryPath(key Key) (string, error)

	// Staging 返回与该 Store 共享根目录的暂存区。
	Staging() *StagingArea
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Key       Key    `json:"key"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在，仅用于触发回源，不会透传给下载调用方。
var ErrNotFound = errors.New("cache entry not found")

// StoreError 描述本地存储操作失败（创建目录、rename、删除、非 not-found 的读取失败）。
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// newStoreError 包装底层错误；已是 StoreError 的直接返回，避免重复嵌套。
func newStoreError(op, path string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Path: path, Err: err}
}
