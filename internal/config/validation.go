package config

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if err := validateListenAddr(g.ListenAddr); err != nil {
		return newFieldError("Global.ListenAddr", err.Error())
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheTTLMillis < 0 {
		return newFieldError("Global.CacheTTLMillis", "不能为负数")
	}
	if c.EffectiveCacheTTL() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}

	if err := validateUpstream(c.Origin.BaseURL); err != nil {
		return fmt.Errorf("Origin.BaseURL: %w", err)
	}
	if err := validateContentType(c.Origin.FallbackContentType); err != nil {
		return newFieldError("Origin.FallbackContentType", err.Error())
	}

	return nil
}

func validateListenAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("不能为空")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("格式应为 host:port: %v", err)
	}
	return nil
}

func validateContentType(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return fmt.Errorf("无法解析: %v", err)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("必须为 image/* 类型: %s", raw)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("上游不应包含查询参数或片段: %s", raw)
	}
	return nil
}
