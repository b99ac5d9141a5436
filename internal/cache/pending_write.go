package cache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// PendingWrite 是一次尚未提交的流式写入。数据先进入 ChunkSize 大小的缓冲区，
// 缓冲区写满即落到同目录的临时文件；Commit 成功后才 rename 到最终路径。
// 非并发安全，由单个回源协程独占使用。
type PendingWrite struct {
	store     *fileStore
	key       Key
	finalPath string
	temp      *os.File
	buf       *bufio.Writer
	written   int64
	closed    bool
}

// Write 实现 io.Writer，错误统一包装为 ErrWrite。
func (w *PendingWrite) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: %s already finished", ErrWrite, w.key)
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %v", ErrWrite, w.key, err)
	}
	return n, nil
}

// Written 返回已接收的字节数（含尚未 flush 的部分）。
func (w *PendingWrite) Written() int64 {
	return w.written
}

// Key 返回写入目标。
func (w *PendingWrite) Key() Key {
	return w.key
}

// Commit 刷盘并原子替换最终文件，随后写入元数据。任一步失败都会清理临时文件，
// 不会留下半截条目。
func (w *PendingWrite) Commit(opts PutOptions) (*Entry, error) {
	if w.closed {
		return nil, fmt.Errorf("%w: %s already finished", ErrWrite, w.key)
	}

	storedAt := opts.StoredAt
	if storedAt.IsZero() {
		storedAt = w.store.now()
	}
	storedAt = storedAt.UTC()

	if err := w.finishTemp(); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: %s: %v", ErrWrite, w.key, err)
	}
	tempName := w.temp.Name()
	if err := os.Chtimes(tempName, storedAt, storedAt); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: %s: %v", ErrWrite, w.key, err)
	}

	metaPath := w.store.metaPath(w.key)
	metaTemp, err := writeMetadataTemp(metaPath, metadata{
		StoredAt:    storedAt,
		ContentType: opts.ContentType,
		SizeBytes:   w.written,
	})
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: %s metadata: %v", ErrWrite, w.key, err)
	}

	unlock := w.store.lockEntry(w.key)
	defer unlock()

	if err := os.Rename(tempName, w.finalPath); err != nil {
		os.Remove(metaTemp)
		w.Abort()
		return nil, fmt.Errorf("%w: %s: %v", ErrWrite, w.key, err)
	}
	if err := os.Rename(metaTemp, metaPath); err != nil {
		// 正文已提交；移除旧元数据后由 ModTime 兜底，避免错配的 Content-Type。
		os.Remove(metaTemp)
		os.Remove(metaPath)
	}

	return &Entry{
		Key:         w.key,
		FilePath:    w.finalPath,
		SizeBytes:   w.written,
		StoredAt:    storedAt,
		ContentType: opts.ContentType,
	}, nil
}

// Abort 丢弃临时文件，可重复调用。
func (w *PendingWrite) Abort() error {
	if w.temp == nil {
		return nil
	}
	if !w.closed {
		w.closed = true
		w.temp.Close()
	}
	err := os.Remove(w.temp.Name())
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (w *PendingWrite) finishTemp() error {
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.temp.Close()
		return err
	}
	if err := w.temp.Sync(); err != nil {
		w.temp.Close()
		return err
	}
	return w.temp.Close()
}
