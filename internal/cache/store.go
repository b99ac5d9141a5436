package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// ChunkSize 是回源流式写入与转发的分块大小，也是写盘缓冲区的 flush 阈值。
const ChunkSize = 8 * 1024

const maxSegmentLength = 255

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<type>/<file>                # 图片正文
//	<StoragePath>/.meta/<type>/<file>.json     # 写入时间与源站 Content-Type
//
// 元数据缺失时以正文文件的 ModTime 作为写入时间。
type Store interface {
	// Get 返回一个可流式读取的缓存条目，不做 TTL 判断。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*ReadResult, error)

	// Create 准备一次流式写入：确保父目录存在并在同目录创建临时文件。
	// 只有 PendingWrite.Commit 成功后条目才对 Get 可见。
	Create(ctx context.Context, key Key) (*PendingWrite, error)

	// Remove 删除正文与元数据文件，不存在时视为成功。
	Remove(ctx context.Context, key Key) error
}

// PutOptions 控制提交时记录的属性。
type PutOptions struct {
	StoredAt    time.Time
	ContentType string
}

// Key 由 (type, file) 唯一定位一个缓存条目，同时对应源站路径后缀。构造后不可变。
type Key struct {
	Type string
	File string
}

// NewKey 校验路径片段并构造 Key。片段不能为空、不能以 "." 开头，也不能包含路径分隔符，
// 以免命中临时文件、元数据目录或越出缓存根目录。
// 片段会被复制：Fiber 的路由参数指向可复用的请求缓冲区，而 Key 会被后台回源协程长期持有。
func NewKey(imageType, file string) (Key, error) {
	if err := validateSegment(imageType); err != nil {
		return Key{}, fmt.Errorf("%w: type %q %v", ErrInvalidKey, imageType, err)
	}
	if err := validateSegment(file); err != nil {
		return Key{}, fmt.Errorf("%w: file %q %v", ErrInvalidKey, file, err)
	}
	return Key{Type: strings.Clone(imageType), File: strings.Clone(file)}, nil
}

// String 返回 type/file 形式，用作 single-flight 与锁的键。
func (k Key) String() string {
	return k.Type + "/" + k.File
}

// URLPath 返回转义后的 type/file，用于拼接源站地址。
func (k Key) URLPath() string {
	return url.PathEscape(k.Type) + "/" + url.PathEscape(k.File)
}

func validateSegment(segment string) error {
	switch {
	case segment == "":
		return errors.New("is empty")
	case len(segment) > maxSegmentLength:
		return errors.New("is too long")
	case strings.HasPrefix(segment, "."):
		return errors.New("starts with a dot")
	case strings.ContainsAny(segment, "/\\\x00"):
		return errors.New("contains a path separator")
	}
	return nil
}

// Entry 描述一个已提交的缓存条目。
type Entry struct {
	Key         Key       `json:"key"`
	FilePath    string    `json:"file_path"`
	SizeBytes   int64     `json:"size_bytes"`
	StoredAt    time.Time `json:"stored_at"`
	ContentType string    `json:"content_type,omitempty"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在（或已过期被清理）。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 type/file 片段不合法。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrCreateDir 表示无法创建条目所在目录。
	ErrCreateDir = errors.New("create cache directory failed")
	// ErrCreateFile 表示无法创建临时写入文件。
	ErrCreateFile = errors.New("create cache file failed")
	// ErrWrite 表示写入、落盘或提交阶段失败，条目不会被提升。
	ErrWrite = errors.New("write cache file failed")
)

// ExpiredError 表示条目已超过 TTL 并在查找时被删除。它满足 errors.Is(err, ErrNotFound)，
// RemoveErr 记录删除失败的原因（可为空），调用方只需记录日志。
type ExpiredError struct {
	Key       Key
	Age       time.Duration
	RemoveErr error
}

func (e *ExpiredError) Error() string {
	if e.RemoveErr != nil {
		return fmt.Sprintf("cache entry %s expired after %s (remove failed: %v)", e.Key, e.Age, e.RemoveErr)
	}
	return fmt.Sprintf("cache entry %s expired after %s", e.Key, e.Age)
}

// Is 让过期与不存在走同一条回源路径。
func (e *ExpiredError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *ExpiredError) Unwrap() error {
	return e.RemoveErr
}
