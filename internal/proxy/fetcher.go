package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/version"
)

// originResponse 是通过校验、正文尚未读取的源站响应。
type originResponse struct {
	url           string
	body          io.ReadCloser
	contentType   string
	contentLength int64
}

// fetchOrigin 请求源站，仅当状态码为 200 且 Content-Type 以 image/ 开头时返回响应。
// 不做重试；失败时已关闭响应体。
func (h *Handler) fetchOrigin(ctx context.Context, key cache.Key) (*originResponse, error) {
	target := h.settings.OriginURL(key.URLPath())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request %s: %v", ErrOriginUnreachable, target, err)
	}
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", "image-hub/"+version.Version)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOriginUnreachable, target, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrOriginNotImage, target, resp.StatusCode)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if !isImageContentType(contentType) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned content type %q", ErrOriginNotImage, target, contentType)
	}

	return &originResponse{
		url:           target,
		body:          resp.Body,
		contentType:   contentType,
		contentLength: resp.ContentLength,
	}, nil
}

func isImageContentType(value string) bool {
	return strings.HasPrefix(strings.ToLower(value), "image/")
}
