package config

import "testing"

func TestLoadFailsWithMissingFile(t *testing.T) {
	clearLegacyEnv(t)
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("显式指定的配置文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearLegacyEnv(t)
	cfg := `
LogLevel = "info"
StoragePath = "./data"
CacheTTL = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadDistinctOriginErrors(t *testing.T) {
	clearLegacyEnv(t)
	cfg := `
StoragePath = "./data"
OriginBaseURL = "http://origin.local"
DistinctOriginErrors = true
FallbackContentType = "image/webp"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	settings := loaded.Settings()
	if !settings.DistinctOriginErrors {
		t.Fatalf("DistinctOriginErrors 应为 true")
	}
	if settings.FallbackContentType != "image/webp" {
		t.Fatalf("FallbackContentType 未生效: %s", settings.FallbackContentType)
	}
}
