// Package fetch 协调缓存查找与外部提取：同一内容键任意时刻最多只有一个提取进程，
// 并发请求者等待该提取完成后直接复用其结果。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/content"
	"github.com/any-hub/audiohub/internal/extractor"
	"github.com/any-hub/audiohub/internal/keylock"
)

var (
	// ErrExtractionFailed 是所有提取失败的公共哨兵，可通过 errors.Is 判断。
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrExtractionIncomplete 表示提取器报告成功但没有留下文件。
	ErrExtractionIncomplete = errors.New("extraction completed but file not found")
)

// ExtractionError 记录失败的内容键与底层原因。
type ExtractionError struct {
	Key   content.Key
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Key, e.Cause)
}

// Unwrap 同时暴露 ErrExtractionFailed 与底层原因。
func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailed, e.Cause}
}

// Result 描述一次 Fetch 的结果。
type Result struct {
	Entry    cache.Entry
	CacheHit bool
	// Waited 表示调用方排队等待了同键的另一个提取，并复用了它的产物。
	Waited bool
}

// Options 控制提取超时与全局并发上限，零值表示不限制。
type Options struct {
	Timeout       time.Duration
	MaxConcurrent int
	Logger        *logrus.Logger
}

// Coordinator 串行化同一内容键的提取。
type Coordinator struct {
	store      cache.Store
	downloader extractor.Downloader
	logger     *logrus.Logger
	timeout    time.Duration
	slots      chan struct{}
	locks      *keylock.Table
}

// NewCoordinator 构造协调器。
func NewCoordinator(store cache.Store, downloader extractor.Downloader, opts Options) *Coordinator {
	c := &Coordinator{
		store:      store,
		downloader: downloader,
		logger:     opts.Logger,
		timeout:    opts.Timeout,
		locks:      keylock.New(),
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if opts.MaxConcurrent > 0 {
		c.slots = make(chan struct{}, opts.MaxConcurrent)
	}
	return c
}

// Fetch 返回内容键对应的缓存条目，未命中时触发一次提取。
func (c *Coordinator) Fetch(ctx context.Context, req extractor.Request) (Result, error) {
	if entry, err := c.lookup(ctx, req.Key); err != nil {
		return Result{}, err
	} else if entry != nil {
		return Result{Entry: *entry, CacheHit: true}, nil
	}

	unlock, err := c.locks.Lock(ctx, req.Key.String())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	// 持锁后复查：排队期间另一个请求可能已经完成提取。
	if entry, err := c.lookup(ctx, req.Key); err != nil {
		return Result{}, err
	} else if entry != nil {
		return Result{Entry: *entry, CacheHit: true, Waited: true}, nil
	}

	release, err := c.acquireSlot(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	entry, err := c.extract(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Entry: *entry}, nil
}

// InFlight 返回正在获取（提取或排队）的内容键。
func (c *Coordinator) InFlight() []string {
	return c.locks.Held()
}

func (c *Coordinator) lookup(ctx context.Context, key content.Key) (*cache.Entry, error) {
	entry, err := c.store.Stat(ctx, key)
	switch {
	case err == nil:
		return &entry, nil
	case errors.Is(err, cache.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (c *Coordinator) acquireSlot(ctx context.Context) (func(), error) {
	if c.slots == nil {
		return func() {}, nil
	}
	select {
	case c.slots <- struct{}{}:
		return func() { <-c.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) extract(ctx context.Context, req extractor.Request) (*cache.Entry, error) {
	started := time.Now()
	fields := logrus.Fields{
		"action":   "extract",
		"video_id": req.Key,
		"format":   req.Format,
	}
	c.logger.WithFields(fields).Info("extraction_start")

	dir, cleanup, err := c.store.Stage(req.Key)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// 提取与请求生命周期解耦：请求方断开后，排队中的其他请求仍可复用本次结果。
	extractCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(extractCtx, c.timeout)
		defer cancel()
	}

	produced, err := c.downloader.Download(extractCtx, req, dir)
	if err == nil {
		err = checkProduced(produced)
	}
	if err != nil {
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		c.logger.WithError(err).WithFields(fields).Error("extraction_failed")
		if errors.Is(err, extractor.ErrNoOutput) {
			return nil, fmt.Errorf("%w: %s", ErrExtractionIncomplete, req.Key)
		}
		return nil, &ExtractionError{Key: req.Key, Cause: err}
	}

	entry, err := c.store.Commit(extractCtx, req.Key, produced)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Error("extraction_commit_failed")
		return nil, fmt.Errorf("commit %s: %w", req.Key, err)
	}

	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["size_bytes"] = entry.SizeBytes
	c.logger.WithFields(fields).Info("extraction_complete")
	return entry, nil
}

func checkProduced(path string) error {
	if path == "" {
		return extractor.ErrNoOutput
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return extractor.ErrNoOutput
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return extractor.ErrNoOutput
	}
	return nil
}
