package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/image-hub/internal/config"
	"github.com/any-hub/image-hub/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/metrics 诊断接口，供 SRE 查询运行参数与指标。
// gatherer 为空时不注册 /-/metrics。
func RegisterDiagnosticsRoutes(app *fiber.App, settings config.Settings, gatherer prometheus.Gatherer) {
	if app == nil {
		return
	}

	payload := encodeStatus(settings)
	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(payload)
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

type statusPayload struct {
	Version              string               `json:"version"`
	Commit               string               `json:"commit"`
	Origin               string               `json:"origin"`
	StoragePath          string               `json:"storage_path"`
	DistinctOriginErrors bool                 `json:"distinct_origin_errors"`
	CacheStrategy        cacheStrategyPayload `json:"cache_strategy"`
}

type cacheStrategyPayload struct {
	TTLSeconds             int64  `json:"ttl_seconds"`
	ValidationMode         string `json:"validation_mode"`
	DiskLayout             string `json:"disk_layout"`
	RequiresMetadataFile   bool   `json:"requires_metadata_file"`
	SupportsStreamingWrite bool   `json:"supports_streaming_write"`
	FallbackContentType    string `json:"fallback_content_type"`
}

func encodeStatus(settings config.Settings) statusPayload {
	return statusPayload{
		Version:              version.Version,
		Commit:               version.Commit,
		Origin:               settings.OriginBaseURL,
		StoragePath:          settings.StoragePath,
		DistinctOriginErrors: settings.DistinctOriginErrors,
		CacheStrategy: cacheStrategyPayload{
			TTLSeconds:             int64(settings.CacheTTL / time.Second),
			ValidationMode:         "ttl",
			DiskLayout:             "{type}/{file}",
			RequiresMetadataFile:   false,
			SupportsStreamingWrite: true,
			FallbackContentType:    settings.FallbackContentType,
		},
	}
}
