package proxy

import (
	"io"
	"sync"
)

// pendingResponse 是最终决定的响应：状态码、头部信息与正文来源。
// body 为 nil 表示空正文，否则为磁盘文件或 bodyStream，由传输层读取并关闭。
type pendingResponse struct {
	status        int
	contentType   string
	contentLength int64
	cacheHit      bool
	body          io.ReadCloser

	// err 仅用于日志，不写入响应。
	err error
}

func emptyResponse(status int, err error) pendingResponse {
	return pendingResponse{status: status, contentLength: -1, err: err}
}

// handoff 是一次性的响应交接：只有第一次 deliver 生效，等待方恰好收到一个值。
type handoff struct {
	once sync.Once
	ch   chan pendingResponse
}

func newHandoff() *handoff {
	return &handoff{ch: make(chan pendingResponse, 1)}
}

// deliver 投递响应并返回是否生效；后续调用为空操作。
func (h *handoff) deliver(resp pendingResponse) bool {
	delivered := false
	h.once.Do(func() {
		h.ch <- resp
		delivered = true
	})
	return delivered
}

func (h *handoff) done() <-chan pendingResponse {
	return h.ch
}
