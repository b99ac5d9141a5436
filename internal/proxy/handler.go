package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/config"
	"github.com/any-hub/image-hub/internal/logging"
	"github.com/any-hub/image-hub/internal/metrics"
	"github.com/any-hub/image-hub/internal/server"
)

const (
	headerCacheHit = "X-Image-Hub-Cache-Hit"

	defaultFetchTimeout = 5 * time.Minute
)

// Handler 负责 orchestrate “缓存校验 → 命中直出 / 回源写缓存并转发” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与磁盘缓存。
// 同一 Key 的并发未命中通过 singleflight 合并为一次回源。
type Handler struct {
	client    *http.Client
	logger    *logrus.Logger
	store     cache.Store
	validator cache.Validator
	settings  config.Settings
	metrics   *metrics.Recorder
	flights   singleflight.Group
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, settings config.Settings, recorder *metrics.Recorder) *Handler {
	return &Handler{
		client:    client,
		logger:    logger,
		store:     store,
		validator: cache.NewValidator(store, settings.CacheTTL),
		settings:  settings,
		metrics:   recorder,
	}
}

// Handle 处理 GET /:type/:file，任何阶段出错都会输出结构化日志并返回空正文的错误码。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	imageType, file := c.Params("type"), c.Params("file")

	key, err := cache.NewKey(imageType, file)
	if err != nil {
		return h.send(c, imageType, file, emptyResponse(fiber.StatusBadRequest, err), requestID, started)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return h.send(c, key.Type, key.File, h.resolve(ctx, key), requestID, started)
}

// resolve 返回该请求唯一的响应：命中直接读盘；不存在或已过期时加入/发起回源；
// 其它校验错误立即返回 500，不回源。
func (h *Handler) resolve(ctx context.Context, key cache.Key) pendingResponse {
	result, err := h.validator.Lookup(ctx, key)
	switch {
	case err == nil:
		return hitResponse(result, true)
	case errors.Is(err, cache.ErrNotFound):
		h.noteExpired(key, err)
		return h.fetch(ctx, key)
	default:
		return emptyResponse(fiber.StatusInternalServerError, err)
	}
}

// fetch 等待回源结果。执行方通过 handoff 拿到流式响应；
// 其它等待方在执行方提交后从磁盘读取同一份条目，或得到相同的失败状态码。
// 等待时长由回源单元的 FetchTimeout 约束。
func (h *Handler) fetch(ctx context.Context, key cache.Key) pendingResponse {
	out := newHandoff()
	flight := h.flights.DoChan(key.String(), func() (interface{}, error) {
		return h.runFetch(key, out)
	})

	select {
	case resp := <-out.done():
		return resp
	case res := <-flight:
		select {
		case resp := <-out.done():
			return resp
		default:
		}
		if res.Err != nil {
			return emptyResponse(h.statusFor(res.Err), res.Err)
		}
		return h.serveShared(ctx, key)
	}
}

// runFetch 在独立于入站连接的 context 下执行回源与写盘，客户端断开不会中止它。
// 返回前保证 out 已被投递。
func (h *Handler) runFetch(key cache.Key, out *handoff) (entry *cache.Entry, err error) {
	begin := time.Now()
	timeout := h.settings.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer func() {
		h.logFetch(key, begin, entry, err)
		out.deliver(emptyResponse(h.statusFor(err), err))
	}()

	origin, err := h.fetchOrigin(ctx, key)
	if err != nil {
		return nil, err
	}
	defer origin.body.Close()

	return h.writeAndForward(ctx, key, origin, out)
}

func (h *Handler) serveShared(ctx context.Context, key cache.Key) pendingResponse {
	result, err := h.validator.Lookup(ctx, key)
	if err != nil {
		return emptyResponse(fiber.StatusInternalServerError, err)
	}
	return hitResponse(result, false)
}

func hitResponse(result *cache.ReadResult, cacheHit bool) pendingResponse {
	return pendingResponse{
		status:        fiber.StatusOK,
		contentType:   result.Entry.ContentType,
		contentLength: result.Entry.SizeBytes,
		cacheHit:      cacheHit,
		body:          result.Reader,
	}
}

// send 把 pendingResponse 交给 fasthttp；正文在 handler 返回后由传输层继续读取并关闭。
func (h *Handler) send(c fiber.Ctx, imageType, file string, resp pendingResponse, requestID string, started time.Time) error {
	h.observe(resp)
	h.logResult(imageType, file, requestID, resp.status, resp.cacheHit, started, resp.err)

	c.Status(resp.status)
	if resp.body == nil {
		return nil
	}

	contentType := resp.contentType
	if contentType == "" {
		contentType = h.settings.FallbackContentType
	}
	if contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}
	c.Set(headerCacheHit, strconv.FormatBool(resp.cacheHit))

	if resp.contentLength >= 0 {
		return c.SendStream(resp.body, int(resp.contentLength))
	}
	return c.SendStream(resp.body)
}

func (h *Handler) statusFor(err error) int {
	return statusForError(err, h.settings.DistinctOriginErrors)
}

func (h *Handler) observe(resp pendingResponse) {
	switch {
	case resp.status != fiber.StatusOK:
		h.metrics.ObserveRequest(metrics.ResultError)
	case resp.cacheHit:
		h.metrics.ObserveRequest(metrics.ResultHit)
	default:
		h.metrics.ObserveRequest(metrics.ResultMiss)
	}
}

func (h *Handler) noteExpired(key cache.Key, err error) {
	var expired *cache.ExpiredError
	if !errors.As(err, &expired) {
		return
	}
	fields := logrus.Fields{
		"action": "validate",
		"key":    key.String(),
		"age_ms": expired.Age.Milliseconds(),
	}
	if expired.RemoveErr != nil {
		h.logger.WithError(expired.RemoveErr).WithFields(fields).Warn("stale_remove_failed")
		return
	}
	h.logger.WithFields(fields).Debug("stale_removed")
}

func (h *Handler) logFetch(key cache.Key, begin time.Time, entry *cache.Entry, err error) {
	fields := logrus.Fields{
		"action":     "fetch",
		"key":        key.String(),
		"elapsed_ms": time.Since(begin).Milliseconds(),
	}
	if err == nil {
		h.metrics.ObserveFetch(metrics.OutcomeStored, begin)
		fields["size_bytes"] = entry.SizeBytes
		h.logger.WithFields(fields).Info("cache_stored")
		return
	}

	h.metrics.ObserveFetch(outcomeForError(err), begin)
	fields["error"] = err.Error()
	if errors.Is(err, ErrOriginUnreachable) || errors.Is(err, ErrOriginNotImage) {
		h.logger.WithFields(fields).Warn("origin_fetch_failed")
		return
	}
	h.logger.WithFields(fields).Error("cache_write_failed")
}

func (h *Handler) logResult(
	imageType string,
	file string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(imageType, file, cacheHit)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if status >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("image_failed")
			return
		}
		h.logger.WithFields(fields).Warn("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_served")
}
