package fetcher

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// UnknownLength 表示传输层未声明内容长度。
const UnknownLength int64 = -1

// Source 根据标识符返回可读字节流。实现不得在内部重试。
type Source interface {
	Fetch(ctx context.Context, identifier string) (*Stream, error)
}

// SourceFunc 将普通函数适配为 Source，便于测试注入桩实现。
type SourceFunc func(ctx context.Context, identifier string) (*Stream, error)

// Fetch 使 SourceFunc 满足 Source。
func (f SourceFunc) Fetch(ctx context.Context, identifier string) (*Stream, error) {
	return f(ctx, identifier)
}

// Stream 是回源得到的正文流，Length 为 UnknownLength 时表示长度未知。
type Stream struct {
	Body   io.ReadCloser
	Length int64
}

// FetchError 描述一次回源失败：Status > 0 表示上游返回了非 200 状态码，
// 否则为传输层错误（Err 非空）。
type FetchError struct {
	Identifier string
	Status     int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: response status code is %d", e.Identifier, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsStatus 表示错误是否来自上游状态码。
func (e *FetchError) IsStatus() bool {
	return e.Status > 0
}

func statusError(identifier string, status int) *FetchError {
	return &FetchError{Identifier: identifier, Status: status}
}

func transportError(identifier string, err error) *FetchError {
	return &FetchError{Identifier: identifier, Err: err}
}

// parseContentLength 解析 Content-Length 头；缺失或非法时返回 UnknownLength。
func parseContentLength(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownLength
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return UnknownLength
	}
	return n
}
