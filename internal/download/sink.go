package download

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileSink 把正文写入目标文件，Close 前 fsync，保证返回时数据已落盘。
type FileSink struct {
	file *os.File
}

// NewFileSink 创建（或截断）目标文件。
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Close 同步并关闭文件，两者任一失败都会返回错误。
func (s *FileSink) Close() error {
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// FetchToSink 执行 Fetch 并把正文完整写入 sink，随后关闭 sink。
// 只有拷贝与 Close 都成功才算完成；sink 在任何情况下都会被关闭。
func (d *Downloader) FetchToSink(ctx context.Context, identifier string, sink io.WriteCloser) (int64, error) {
	stream, err := d.Fetch(ctx, identifier)
	if err != nil {
		sink.Close()
		return 0, err
	}
	return drain(stream, sink)
}

// FetchToFile 与 FetchToSink 相同，但只在回源/命中成功后才创建目标文件，
// 因此失败的请求不会留下空文件。
func (d *Downloader) FetchToFile(ctx context.Context, identifier, destPath string) (int64, error) {
	stream, err := d.Fetch(ctx, identifier)
	if err != nil {
		return 0, err
	}
	sink, err := NewFileSink(destPath)
	if err != nil {
		stream.Close()
		return 0, fmt.Errorf("create destination: %w", err)
	}
	return drain(stream, sink)
}

func drain(stream *Stream, sink io.WriteCloser) (int64, error) {
	written, copyErr := io.Copy(sink, stream)
	stream.Close()
	closeErr := sink.Close()
	if copyErr != nil {
		return written, copyErr
	}
	if closeErr != nil {
		return written, fmt.Errorf("close sink: %w", closeErr)
	}
	return written, nil
}
