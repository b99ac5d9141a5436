package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// metadata 是正文旁的 sidecar 记录，显式保存写入完成时间与源站 Content-Type。
type metadata struct {
	StoredAt    time.Time `json:"stored_at"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

func readMetadata(path string) (metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metadata{}, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	if meta.StoredAt.IsZero() {
		return metadata{}, fmt.Errorf("metadata %s missing stored_at", path)
	}
	return meta, nil
}

// writeMetadataTemp 在目标目录写入临时元数据文件并返回其路径，由调用方 rename。
func writeMetadataTemp(path string, meta metadata) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(dir, tempFilePrefix)
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}
