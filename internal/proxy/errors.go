package proxy

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/metrics"
)

var (
	// ErrOriginUnreachable 表示请求源站失败（网络错误、超时或正文读取中断）。
	ErrOriginUnreachable = errors.New("origin unreachable")
	// ErrOriginNotImage 表示源站返回非 200 或 Content-Type 不是 image/*。
	ErrOriginNotImage = errors.New("origin response is not an image")

	errClientGone = errors.New("client disconnected")
)

// statusForError 是错误类型到 HTTP 状态码的唯一映射。
func statusForError(err error, distinctOriginErrors bool) int {
	switch {
	case err == nil:
		return fiber.StatusInternalServerError
	case errors.Is(err, cache.ErrInvalidKey):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrOriginNotImage):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrOriginUnreachable):
		if distinctOriginErrors {
			return fiber.StatusBadGateway
		}
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// outcomeForError 将回源失败归类为指标标签。
func outcomeForError(err error) string {
	switch {
	case errors.Is(err, ErrOriginNotImage):
		return metrics.OutcomeNotImage
	case errors.Is(err, ErrOriginUnreachable):
		return metrics.OutcomeUnreachable
	default:
		return metrics.OutcomeWriteFailed
	}
}
