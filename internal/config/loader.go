package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultOriginBaseURL 是未配置源站时使用的图片仓库地址。
	DefaultOriginBaseURL = "https://raw.githubusercontent.com/Poke-cord/images/main/"
	// DefaultCacheTTL 为本地缓存默认有效期。
	DefaultCacheTTL = 6 * time.Hour

	defaultListenAddr   = "0.0.0.0:3000"
	defaultContentType  = "image/png"
	storageDirName      = "image-hub"
	fallbackStoragePath = "./storage"
)

// envBindings 兼容旧版部署使用的环境变量名称。
var envBindings = map[string]string{
	"OriginBaseURL":  "IMAGE_HOST_BASE_URL",
	"CacheTTLMillis": "LOCAL_CACHE_TTL_MS",
	"ListenAddr":     "LISTEN_ADDR",
}

// Load 读取可选的 TOML 配置文件与环境变量，注入默认值并完成校验。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyOriginDefaults(&cfg.Origin)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddr", defaultListenAddr)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "")
	v.SetDefault("CacheTTL", DefaultCacheTTL.String())
	v.SetDefault("CacheTTLMillis", 0)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("FetchTimeout", "5m")
	v.SetDefault("OriginBaseURL", DefaultOriginBaseURL)
	v.SetDefault("FallbackContentType", defaultContentType)
	v.SetDefault("DistinctOriginErrors", false)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(g.ListenAddr) == "" {
		g.ListenAddr = defaultListenAddr
	}
	if g.StoragePath == "" {
		g.StoragePath = defaultStoragePath()
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(DefaultCacheTTL)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(5 * time.Minute)
	}
}

func applyOriginDefaults(o *OriginConfig) {
	o.BaseURL = strings.TrimSpace(o.BaseURL)
	if o.BaseURL == "" {
		o.BaseURL = DefaultOriginBaseURL
	}
	o.FallbackContentType = strings.TrimSpace(o.FallbackContentType)
	if o.FallbackContentType == "" {
		o.FallbackContentType = defaultContentType
	}
}

// defaultStoragePath 使用平台缓存目录（如 ~/.cache/image-hub），无法解析时退回 ./storage。
func defaultStoragePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return fallbackStoragePath
	}
	return filepath.Join(dir, storageDirName)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
