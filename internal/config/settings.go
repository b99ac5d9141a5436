package config

import (
	"strings"
	"time"
)

// Settings 是启动时构造一次、之后只读的核心运行参数，由 main 注入代理层。
type Settings struct {
	OriginBaseURL        string
	CacheTTL             time.Duration
	FetchTimeout         time.Duration
	FallbackContentType  string
	DistinctOriginErrors bool
	StoragePath          string
}

// Settings 将已通过校验的配置折叠为不可变的 Settings 值。
func (c *Config) Settings() Settings {
	return Settings{
		OriginBaseURL:        strings.TrimRight(c.Origin.BaseURL, "/"),
		CacheTTL:             c.EffectiveCacheTTL(),
		FetchTimeout:         c.Global.FetchTimeout.DurationValue(),
		FallbackContentType:  c.Origin.FallbackContentType,
		DistinctOriginErrors: c.Origin.DistinctOriginErrors,
		StoragePath:          c.Global.StoragePath,
	}
}

// OriginURL 拼接源站地址，relPath 为已转义的 type/file 形式。
func (s Settings) OriginURL(relPath string) string {
	return strings.TrimRight(s.OriginBaseURL, "/") + "/" + strings.TrimLeft(relPath, "/")
}
