package download

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed 表示调用方在读到 EOF 之前关闭了下载流，暂存写入因此放弃。
var ErrStreamClosed = errors.New("download stream closed before completion")

const pumpChunkSize = 32 * 1024

// branch 是 tee 的一个下游：独立缓冲、独立推进，终止信号在缓冲读完后交付。
type branch struct {
	mu       sync.Mutex
	cond     *sync.Cond
	chunks   [][]byte
	buffered int64
	pushed   int64
	limit    int64
	err      error
	detached bool
}

func newBranch(limit int64) *branch {
	b := &branch{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push 追加数据块，limit > 0 时阻塞直到消费者追上。分支已脱离时返回 false。
func (b *branch) push(chunk []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.detached && b.limit > 0 && b.buffered >= b.limit {
		b.cond.Wait()
	}
	if b.detached {
		return false
	}
	b.chunks = append(b.chunks, chunk)
	b.buffered += int64(len(chunk))
	b.pushed += int64(len(chunk))
	b.cond.Broadcast()
	return true
}

// finish 记录终止信号（io.EOF 或上游错误），只有第一次生效。
func (b *branch) finish(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *branch) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.chunks) == 0 && b.err == nil && !b.detached {
		b.cond.Wait()
	}
	if b.detached {
		return 0, ErrStreamClosed
	}
	if len(b.chunks) == 0 {
		return 0, b.err
	}

	n := copy(p, b.chunks[0])
	if n == len(b.chunks[0]) {
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	} else {
		b.chunks[0] = b.chunks[0][n:]
	}
	b.buffered -= int64(n)
	b.cond.Broadcast()
	return n, nil
}

// detach 让消费者退出：丢弃缓冲并唤醒可能阻塞在 push 的生产者。
func (b *branch) detach() {
	b.mu.Lock()
	b.detached = true
	b.chunks = nil
	b.buffered = 0
	b.cond.Broadcast()
	b.mu.Unlock()
}

// state 返回分支是否已脱离，以及脱离前累计成功推送的字节数。
func (b *branch) state() (detached bool, pushed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached, b.pushed
}

// fork 把单一上游分发给调用方与暂存写入两个分支。
// 两个分支看到相同的字节序列与相同的终止信号；写入分支失败只会让它自身脱离。
type fork struct {
	src       io.ReadCloser
	closeOnce sync.Once
	expected  int64
	caller    *branch
	writer    *branch
}

func newFork(src io.ReadCloser, expected int64, limit int64) *fork {
	return &fork{
		src:      src,
		expected: expected,
		caller:   newBranch(limit),
		writer:   newBranch(limit),
	}
}

// pump 由独立 goroutine 运行，是唯一读取上游的地方。
func (f *fork) pump() {
	defer f.closeSource()

	buf := make([]byte, pumpChunkSize)
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !f.caller.push(chunk) && f.canceled() {
				f.writer.finish(ErrStreamClosed)
				return
			}
			f.writer.push(chunk)
		}
		if err != nil {
			if f.canceled() {
				f.writer.finish(ErrStreamClosed)
				return
			}
			f.caller.finish(err)
			f.writer.finish(err)
			return
		}
		if f.canceled() {
			f.writer.finish(ErrStreamClosed)
			return
		}
	}
}

// canceled 判断调用方是否在拿到声明长度之前关闭了流。按 Content-Length
// 读满后关闭（不再读 EOF）的消费者不视为取消，暂存分支继续完成。
func (f *fork) canceled() bool {
	detached, delivered := f.caller.state()
	if !detached {
		return false
	}
	return f.expected < 0 || delivered < f.expected
}

// cancel 在调用方提前关闭时关闭上游，使阻塞在 Read 上的 pump 立即返回。
func (f *fork) cancel() {
	f.caller.detach()
	if f.canceled() {
		f.closeSource()
	}
}

func (f *fork) closeSource() {
	f.closeOnce.Do(func() {
		_ = f.src.Close()
	})
}

// callerStream 是交给调用方的分支；在拿到完整正文之前 Close 会取消暂存写入。
type callerStream struct {
	f *fork
}

func (s callerStream) Read(p []byte) (int, error) {
	return s.f.caller.Read(p)
}

func (s callerStream) Close() error {
	s.f.cancel()
	return nil
}
