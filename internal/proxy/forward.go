package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/cache"
)

// writeAndForward 把源站正文逐块同时写入磁盘与客户端。
//
// 成功响应在读取正文之前就通过 out 交付，客户端与写盘同步推进。客户端离开只会停止转发，
// 剩余字节仍会落盘并提交；写盘或读取源站失败则丢弃临时文件，不产生缓存条目。
// 读取方在条目提交之后才会收到 EOF。
func (h *Handler) writeAndForward(ctx context.Context, key cache.Key, origin *originResponse, out *handoff) (*cache.Entry, error) {
	pending, err := h.store.Create(ctx, key)
	if err != nil {
		return nil, err
	}

	stream := newBodyStream(streamDepth)
	if !out.deliver(pendingResponse{
		status:        fiber.StatusOK,
		contentType:   origin.contentType,
		contentLength: origin.contentLength,
		body:          stream,
	}) {
		stream.Close()
	}

	forwarding := true
	buf := make([]byte, cache.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, h.abortWrite(pending, stream, err)
		}

		n, readErr := origin.body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if _, err := pending.Write(chunk); err != nil {
				return nil, h.abortWrite(pending, stream, err)
			}
			if forwarding {
				if err := stream.send(chunk); err != nil {
					forwarding = false
					h.metrics.ObserveDisconnect()
					h.logger.WithFields(logrus.Fields{
						"action":  "forward",
						"key":     key.String(),
						"written": pending.Written(),
					}).Info("client_disconnected")
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, h.abortWrite(pending, stream, fmt.Errorf("%w: read body %s: %v", ErrOriginUnreachable, origin.url, readErr))
		}
	}

	if origin.contentLength >= 0 && pending.Written() != origin.contentLength {
		return nil, h.abortWrite(pending, stream, fmt.Errorf("%w: %s declared %d bytes, received %d",
			ErrOriginUnreachable, origin.url, origin.contentLength, pending.Written()))
	}

	entry, err := pending.Commit(cache.PutOptions{ContentType: origin.contentType})
	if err != nil {
		stream.finish(err)
		return nil, err
	}
	stream.finish(nil)
	h.metrics.AddBytesWritten(entry.SizeBytes)
	return entry, nil
}

func (h *Handler) abortWrite(pending *cache.PendingWrite, stream *bodyStream, cause error) error {
	if err := pending.Abort(); err != nil {
		h.logger.WithError(err).WithField("key", pending.Key().String()).Warn("cache_abort_failed")
	}
	stream.finish(cause)
	return cause
}
