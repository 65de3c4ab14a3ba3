package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/audiohub/internal/content"
)

func TestStorePutAndOpenFull(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("dQw4w9WgXcQ")

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), key, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	if !store.Exists(context.Background(), key) {
		t.Fatalf("expected entry to exist after put")
	}

	entry, err := store.Stat(context.Background(), key)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if !entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, entry.ModTime)
	}

	reader, err := store.OpenRange(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
}

func TestStoreOpenRangeReturnsExactSpan(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("ranged")
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if _, err := store.Put(context.Background(), key, bytes.NewReader(payload), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	reader, err := store.OpenRange(context.Background(), key, &ByteRange{Start: 200, End: 499, Total: 1000})
	if err != nil {
		t.Fatalf("open range error: %v", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read range error: %v", err)
	}
	if len(body) != 300 {
		t.Fatalf("expected 300 bytes, got %d", len(body))
	}
	if !bytes.Equal(body, payload[200:500]) {
		t.Fatalf("range body mismatch")
	}
}

func TestStoreOpenRangeRejectsStaleRange(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("short")
	if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("0123456789")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	_, err := store.OpenRange(context.Background(), key, &ByteRange{Start: 5, End: 20, Total: 21})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestStoreStatMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Stat(context.Background(), content.Key("missing"))
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.OpenRange(context.Background(), content.Key("missing"), nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound from OpenRange, got %v", err)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("remove")
	if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if store.Exists(context.Background(), key) {
		t.Fatalf("expected entry to be gone after delete")
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("dir")

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

	if _, err := store.Stat(context.Background(), key); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("directories must not be listed, got %v", entries)
	}
}

func TestStoreRejectsTraversalKeys(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Stat(context.Background(), content.Key("../escape")); !errors.Is(err, content.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, _, err := store.Stage(content.Key("a/b")); !errors.Is(err, content.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey from Stage, got %v", err)
	}
}

func TestStoreCommitMovesStagedFile(t *testing.T) {
	store := newTestStore(t)
	key := content.Key("staged")

	dir, cleanup, err := store.Stage(key)
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	defer cleanup()

	produced := filepath.Join(dir, "staged.mp3")
	if err := os.WriteFile(produced, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(produced, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	entry, err := store.Commit(context.Background(), key, produced)
	if err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if entry.SizeBytes != 5 {
		t.Fatalf("unexpected size %d", entry.SizeBytes)
	}
	if time.Since(entry.ModTime) > time.Minute {
		t.Fatalf("commit should refresh modtime, got %v", entry.ModTime)
	}
	if _, err := os.Stat(produced); !os.IsNotExist(err) {
		t.Fatalf("staged file should have been moved, stat err=%v", err)
	}

	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("cleanup should remove staging dir")
	}
}

func TestStoreListSkipsForeignFiles(t *testing.T) {
	store := newTestStore(t)
	base := store.(*fileStore).basePath

	for _, key := range []content.Key{"one", "two"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	for _, name := range []string{"notes.txt", ".cache-123", "bad key.mp3"} {
		if err := os.WriteFile(filepath.Join(base, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write foreign file: %v", err)
		}
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d (%v)", len(entries), entries)
	}
}

func TestStorePurgeStaging(t *testing.T) {
	store := newTestStore(t)
	oldDir, _, err := store.Stage(content.Key("old"))
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	freshDir, _, err := store.Stage(content.Key("fresh"))
	if err != nil {
		t.Fatalf("stage error: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := store.PurgeStaging(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 staging dir removed, got %d", removed)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh staging dir should survive: %v", err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "mp3")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestStorePutCleansUpOnInterruptedBody(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "mp3")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	reader := &flakyReader{payload: []byte("partial_data"), failAfter: 5}
	if _, err := store.Put(context.Background(), "abc", reader, PutOptions{}); err == nil {
		t.Fatalf("expected error from interrupted reader")
	}

	if _, err := os.Stat(filepath.Join(dir, "abc.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final file, got err=%v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".cache-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
}

type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := f.failAfter - f.readBytes
	if remaining > len(p) {
		remaining = len(p)
	}
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}
