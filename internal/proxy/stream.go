package proxy

import (
	"io"
	"sync"
)

// streamDepth 是转发通道的缓冲块数，客户端短暂变慢时写盘不必逐块等待。
const streamDepth = 16

// bodyStream 是回源协程与传输层之间有序、可关闭的分块通道。
// 生产端通过 send/finish 推送数据与结束状态，消费端（fasthttp）通过 Read/Close 读取；
// 两端可以各自关闭而互不影响：Close 只会让 send 返回 errClientGone。
type bodyStream struct {
	chunks chan []byte
	gone   chan struct{}
	once   sync.Once

	// err 在 chunks 关闭前写入，关闭后只读。
	err     error
	pending []byte
}

func newBodyStream(depth int) *bodyStream {
	return &bodyStream{
		chunks: make(chan []byte, depth),
		gone:   make(chan struct{}),
	}
}

// send 转发一个块；客户端已离开时返回 errClientGone，调用方应停止转发但继续写盘。
func (s *bodyStream) send(chunk []byte) error {
	select {
	case <-s.gone:
		return errClientGone
	default:
	}
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.gone:
		return errClientGone
	}
}

// finish 结束生产端，err 非空时读取方在消费完已缓冲的块后收到该错误。只能调用一次。
func (s *bodyStream) finish(err error) {
	s.err = err
	close(s.chunks)
}

func (s *bodyStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		chunk, ok := <-s.chunks
		if !ok {
			if s.err != nil {
				return 0, s.err
			}
			return 0, io.EOF
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close 标记客户端离开，可重复调用。
func (s *bodyStream) Close() error {
	s.once.Do(func() { close(s.gone) })
	return nil
}
