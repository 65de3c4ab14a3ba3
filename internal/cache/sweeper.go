package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStoreUnavailable 表示未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// SweepResult 汇总一次保留策略清理的结果。
type SweepResult struct {
	Deleted       int `json:"deletedCount"`
	Retained      int `json:"retainedCount"`
	StagingPurged int `json:"stagingPurged"`
}

// Sweeper 根据最大保留时长清理过期条目，默认使用 time.Now 作为时钟。
// 清理是尽力而为的 stat-then-delete：正在被读取的文件在 POSIX 下仍可读完。
type Sweeper struct {
	store  Store
	maxAge time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

// NewSweeper 构造保留策略清理器。
func NewSweeper(store Store, maxAge time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// MaxAge 返回当前保留时长。
func (s *Sweeper) MaxAge() time.Duration {
	return s.maxAge
}

// Expired 判断条目年龄是否超过保留时长（严格大于）。
func (s *Sweeper) Expired(entry Entry) bool {
	if s.maxAge <= 0 {
		return false
	}
	return s.now().Sub(entry.ModTime) > s.maxAge
}

// Sweep 删除所有过期条目与遗留暂存目录。单个条目删除失败不会中断清理，
// 所有失败会合并到返回的 error 中。
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if s.store == nil {
		return result, ErrStoreUnavailable
	}

	entries, err := s.store.List(ctx)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, entry := range entries {
		if !s.Expired(entry) {
			result.Retained++
			continue
		}
		if err := s.store.Delete(ctx, entry.Key); err != nil {
			errs = append(errs, err)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action":   "cleanup",
				"video_id": entry.Key,
			}).Warn("cleanup_delete_failed")
			continue
		}
		result.Deleted++
	}

	purged, err := s.store.PurgeStaging(ctx, s.now().Add(-s.maxAge))
	result.StagingPurged = purged
	if err != nil {
		errs = append(errs, err)
	}

	s.logger.WithFields(logrus.Fields{
		"action":         "cleanup",
		"deleted":        result.Deleted,
		"retained":       result.Retained,
		"staging_purged": result.StagingPurged,
		"max_age":        s.maxAge.String(),
	}).Info("cleanup_complete")

	return result, errors.Join(errs...)
}

// Run 以固定间隔执行 Sweep，直到 ctx 取消；interval <= 0 时立即返回。
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).WithField("action", "cleanup").Warn("cleanup_failed")
			}
		}
	}
}
