package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"6h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听地址、日志、缓存目录与回源行为。
type GlobalConfig struct {
	ListenAddr    string `mapstructure:"ListenAddr"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`

	CacheTTL Duration `mapstructure:"CacheTTL"`
	// CacheTTLMillis 对应 LOCAL_CACHE_TTL_MS 环境变量，大于 0 时覆盖 CacheTTL。
	CacheTTLMillis int64 `mapstructure:"CacheTTLMillis"`

	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	FetchTimeout    Duration `mapstructure:"FetchTimeout"`
}

// OriginConfig 描述图片源站以及响应策略。
type OriginConfig struct {
	BaseURL             string `mapstructure:"OriginBaseURL"`
	FallbackContentType string `mapstructure:"FallbackContentType"`
	// DistinctOriginErrors 为 true 时，源站不可达返回 502，而非与内容校验失败共用 400。
	DistinctOriginErrors bool `mapstructure:"DistinctOriginErrors"`
}

// Config 是 TOML 文件映射的整体结构，所有键位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:",squash"`
}

// EffectiveCacheTTL 返回最终生效的 TTL，毫秒级环境变量优先。
func (c *Config) EffectiveCacheTTL() time.Duration {
	if c == nil {
		return 0
	}
	if c.Global.CacheTTLMillis > 0 {
		return time.Duration(c.Global.CacheTTLMillis) * time.Millisecond
	}
	return c.Global.CacheTTL.DurationValue()
}
