package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	metaDirName    = ".meta"
	tempFilePrefix = ".cache-*"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 串行化同一 Key 的提交与删除，保证正文与元数据成对变化。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, key Key) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	// 正文与元数据在同一把锁下读取，避免与 Commit 的两次 rename 交错而配错元数据。
	unlock := s.lockEntry(key)
	defer unlock()

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open cache entry %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat cache entry %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	entry := Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		StoredAt:  info.ModTime(),
	}
	if meta, err := readMetadata(s.metaPath(key)); err == nil && meta.SizeBytes == info.Size() {
		entry.StoredAt = meta.StoredAt
		entry.ContentType = meta.ContentType
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Create(ctx context.Context, key Key) (*PendingWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCreateDir, dir, err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCreateFile, filePath, err)
	}

	return &PendingWrite{
		store:     s,
		key:       key,
		finalPath: filePath,
		temp:      tempFile,
		buf:       bufio.NewWriterSize(tempFile, ChunkSize),
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	var errs []error
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *fileStore) lockEntry(key Key) func() {
	lockKey := key.String()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key Key) (string, error) {
	if err := validateSegment(key.Type); err != nil {
		return "", fmt.Errorf("%w: type %v", ErrInvalidKey, err)
	}
	if err := validateSegment(key.File); err != nil {
		return "", fmt.Errorf("%w: file %v", ErrInvalidKey, err)
	}

	filePath := filepath.Join(s.basePath, key.Type, key.File)
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: escapes storage root", ErrInvalidKey)
	}
	return filePath, nil
}

func (s *fileStore) metaPath(key Key) string {
	return filepath.Join(s.basePath, metaDirName, key.Type, key.File+".json")
}
