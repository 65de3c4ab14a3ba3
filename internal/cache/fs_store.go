package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/any-hub/audiohub/internal/content"
	"github.com/any-hub/audiohub/internal/keylock"
)

const stagingDirName = ".staging"

// NewStore 以 basePath 为根目录构建磁盘缓存，ext 为音频文件扩展名（不含点），整站复用一份实例。
func NewStore(basePath, ext string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return nil, errors.New("file extension required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	staging := filepath.Join(abs, stagingDirName)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath:    abs,
		stagingPath: staging,
		ext:         ext,
		locks:       keylock.New(),
	}, nil
}

// fileStore 通过按键锁表避免同一内容键的并发写入/删除交错，读取不加锁。
type fileStore struct {
	basePath    string
	stagingPath string
	ext         string
	locks       *keylock.Table
}

func (s *fileStore) Exists(ctx context.Context, key content.Key) bool {
	_, err := s.Stat(ctx, key)
	return err == nil
}

func (s *fileStore) Stat(ctx context.Context, key content.Key) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, ErrNotFound
	}
	return newEntry(key, filePath, info), nil
}

func (s *fileStore) OpenRange(ctx context.Context, key content.Key, rng *ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	if rng == nil {
		return &rangeReader{reader: f, file: f}, nil
	}
	if !rng.Valid() || rng.Total != info.Size() {
		f.Close()
		return nil, fmt.Errorf("%w: %s (size %d)", ErrInvalidRange, rng.ContentRange(), info.Size())
	}
	section := io.NewSectionReader(f, rng.Start, rng.Length())
	return &rangeReader{reader: section, file: f}, nil
}

func (s *fileStore) Delete(ctx context.Context, key content.Key) error {
	unlock, err := s.locks.Lock(ctx, string(key))
	if err != nil {
		return err
	}
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	suffix := "." + s.ext
	entries := make([]Entry, 0, len(dirEntries))
	for _, item := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := item.Name()
		if item.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		key, err := content.ParseKey(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}
		info, err := item.Info()
		if err != nil {
			// 枚举与删除并发时文件可能已消失。
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, newEntry(key, filepath.Join(s.basePath, name), info))
	}
	return entries, nil
}

func (s *fileStore) Stage(key content.Key) (string, func(), error) {
	if _, err := s.entryPath(key); err != nil {
		return "", nil, err
	}
	dir := filepath.Join(s.stagingPath, fmt.Sprintf("%s-%s", key, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (s *fileStore) Commit(ctx context.Context, key content.Key, producedPath string) (*Entry, error) {
	unlock, err := s.locks.Lock(ctx, string(key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(producedPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("produced path is not a regular file: %s", producedPath)
	}

	if err := os.Rename(producedPath, filePath); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return nil, err
		}
		// 暂存目录与缓存目录跨文件系统时退回复制写入。
		src, openErr := os.Open(producedPath)
		if openErr != nil {
			return nil, openErr
		}
		defer src.Close()
		return s.putLocked(ctx, key, filePath, src, PutOptions{})
	}

	now := time.Now().UTC()
	if err := os.Chtimes(filePath, now, now); err != nil {
		return nil, err
	}
	return s.statPath(key, filePath)
}

func (s *fileStore) Put(ctx context.Context, key content.Key, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock, err := s.locks.Lock(ctx, string(key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}
	return s.putLocked(ctx, key, filePath, body, opts)
}

func (s *fileStore) putLocked(ctx context.Context, key content.Key, filePath string, body io.Reader, opts PutOptions) (*Entry, error) {
	tempFile, err := os.CreateTemp(s.basePath, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}
	return s.statPath(key, filePath)
}

func (s *fileStore) PurgeStaging(ctx context.Context, cutoff time.Time) (int, error) {
	items, err := os.ReadDir(s.stagingPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := item.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.stagingPath, item.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *fileStore) statPath(key content.Key, filePath string) (*Entry, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	entry := newEntry(key, filePath, info)
	return &entry, nil
}

// entryPath 将内容键映射到规范路径，并再次确认结果位于 basePath 之内。
func (s *fileStore) entryPath(key content.Key) (string, error) {
	if _, err := content.ParseKey(string(key)); err != nil {
		return "", err
	}
	filePath := filepath.Join(s.basePath, string(key)+"."+s.ext)
	if filepath.Dir(filePath) != s.basePath {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func newEntry(key content.Key, filePath string, info fs.FileInfo) Entry {
	return Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}
}

// rangeReader 把底层读错误包装为 ErrIO，并在 Close 时释放文件句柄。
type rangeReader struct {
	reader io.Reader
	file   *os.File
}

func (r *rangeReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, err
}

func (r *rangeReader) Close() error {
	return r.file.Close()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
