package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "25.png")

	storedAt := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	if _, err := putEntry(store, key, bytes.NewReader(payload), PutOptions{StoredAt: storedAt, ContentType: "image/webp"}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.StoredAt.Equal(storedAt) {
		t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, result.Entry.StoredAt)
	}
	if result.Entry.ContentType != "image/webp" {
		t.Fatalf("content type mismatch: %s", result.Entry.ContentType)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), mustKey(t, "pokemon", "missing.png"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "items", "potion.png")
	if _, err := putEntry(store, key, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	fs := store.(*fileStore)
	if _, err := os.Stat(fs.metaPath(key)); !os.IsNotExist(err) {
		t.Fatalf("metadata should be removed, stat err=%v", err)
	}
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("removing a missing entry should succeed: %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "shiny")

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(key)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestPendingWriteInvisibleUntilCommit(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "1.png")

	pending, err := store.Create(context.Background(), key)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	payload := bytes.Repeat([]byte("a"), 3*ChunkSize+17)
	if _, err := pending.Write(payload); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entry must stay invisible before commit, got %v", err)
	}

	entry, err := pending.Commit(PutOptions{ContentType: "image/png"})
	if err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("entry size mismatch: %d", entry.SizeBytes)
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("committed bytes differ: got %d bytes", len(data))
	}
	assertNoTempFiles(t, filepath.Dir(entry.FilePath))
}

func TestPendingWriteAbortLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "2.png")

	pending, err := store.Create(context.Background(), key)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := pending.Write([]byte("partial")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := pending.Abort(); err != nil {
		t.Fatalf("abort error: %v", err)
	}
	if err := pending.Abort(); err != nil {
		t.Fatalf("second abort should be a no-op: %v", err)
	}
	if _, err := pending.Write([]byte("late")); !errors.Is(err, ErrWrite) {
		t.Fatalf("write after abort should fail with ErrWrite, got %v", err)
	}

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted entry must not exist, got %v", err)
	}
	fs := store.(*fileStore)
	assertNoTempFiles(t, filepath.Join(fs.basePath, "pokemon"))
}

func TestCommitReplacesExistingEntry(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "3.png")

	if _, err := putEntry(store, key, strings.NewReader("old-bytes-longer"), PutOptions{ContentType: "image/gif"}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := putEntry(store, key, strings.NewReader("new"), PutOptions{ContentType: "image/png"}); err != nil {
		t.Fatalf("second put error: %v", err)
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "new" {
		t.Fatalf("expected replaced body, got %q", string(body))
	}
	if result.Entry.ContentType != "image/png" {
		t.Fatalf("expected replaced content type, got %s", result.Entry.ContentType)
	}
}

func TestGetFallsBackToModTimeWithoutMetadata(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "4.png")

	fs := store.(*fileStore)
	filePath, _ := fs.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(filePath, []byte("legacy"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	modTime := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		t.Fatalf("chtimes error: %v", err)
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	if !result.Entry.StoredAt.Equal(modTime) {
		t.Fatalf("expected modtime fallback %v, got %v", modTime, result.Entry.StoredAt)
	}
	if result.Entry.ContentType != "" {
		t.Fatalf("expected empty content type without metadata, got %s", result.Entry.ContentType)
	}
}

func TestNewKeyRejectsUnsafeSegments(t *testing.T) {
	testCases := []struct {
		name      string
		imageType string
		file      string
	}{
		{"empty type", "", "1.png"},
		{"empty file", "pokemon", ""},
		{"dot dot", "..", "1.png"},
		{"hidden", "pokemon", ".cache-123"},
		{"meta dir", ".meta", "1.png"},
		{"slash", "pokemon", "a/b.png"},
		{"backslash", "pokemon", `a\b.png`},
		{"too long", "pokemon", strings.Repeat("x", 300)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewKey(tc.imageType, tc.file); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}

	key, err := NewKey("pokemon", "shiny 25.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.URLPath() != "pokemon/shiny%2025.png" {
		t.Fatalf("unexpected url path: %s", key.URLPath())
	}
}

func TestNewKeyCopiesSegments(t *testing.T) {
	// 模拟 Fiber 路由参数：字符串直接指向之后会被复用的请求缓冲区。
	buf := []byte("pokemon/aaaaaaaa.png")
	imageType := unsafe.String(&buf[0], 7)
	file := unsafe.String(&buf[8], len(buf)-8)

	key, err := NewKey(imageType, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	copy(buf, "zzzzzzz/bbbbbbbb.png")

	if key.Type != "pokemon" || key.File != "aaaaaaaa.png" {
		t.Fatalf("key changed with the request buffer: %s", key)
	}
}

func TestGetPairsBodyWithItsMetadata(t *testing.T) {
	store := newTestStore(t)
	key := mustKey(t, "pokemon", "swap.png")
	if _, err := putEntry(store, key, strings.NewReader("png!"), PutOptions{ContentType: "image/png"}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	expected := map[string]string{"png!": "image/png", "gif!": "image/gif"}
	const rounds = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			body, contentType := "gif!", "image/gif"
			if i%2 == 1 {
				body, contentType = "png!", "image/png"
			}
			if _, err := putEntry(store, key, strings.NewReader(body), PutOptions{ContentType: contentType}); err != nil {
				t.Errorf("put error: %v", err)
				return
			}
		}
	}()

	for i := 0; i < rounds; i++ {
		result, err := store.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		body, _ := io.ReadAll(result.Reader)
		result.Reader.Close()
		if want := expected[string(body)]; result.Entry.ContentType != want {
			t.Fatalf("body %q paired with content type %q", string(body), result.Entry.ContentType)
		}
	}
	wg.Wait()
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// putEntry 以一次完整的流式写入预置缓存条目。
func putEntry(store Store, key Key, body io.Reader, opts PutOptions) (*Entry, error) {
	pending, err := store.Create(context.Background(), key)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(pending, body); err != nil {
		pending.Abort()
		return nil, err
	}
	return pending.Commit(opts)
}

func mustKey(t *testing.T, imageType, file string) Key {
	t.Helper()
	key, err := NewKey(imageType, file)
	if err != nil {
		t.Fatalf("invalid key: %v", err)
	}
	return key
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".cache-") {
			t.Fatalf("unexpected temp file left behind: %s", entry.Name())
		}
	}
}
