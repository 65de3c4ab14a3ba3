package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/any-hub/audiohub/internal/content"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>.<ext>              # 已提交的音频文件
//	<StoragePath>/.staging/<key>-<uuid>/   # 提取器私有的暂存目录
//
// 每个条目仅由音频文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Exists 判断内容键是否已有对应的缓存文件。
	Exists(ctx context.Context, key content.Key) bool

	// Stat 返回条目的大小与修改时间。若不存在则返回 ErrNotFound。
	Stat(ctx context.Context, key content.Key) (Entry, error)

	// OpenRange 返回覆盖指定字节区间的惰性 Reader；rng 为 nil 时覆盖整个文件。
	// 调用方负责 Close。
	OpenRange(ctx context.Context, key content.Key, rng *ByteRange) (io.ReadCloser, error)

	// Delete 删除条目文件，不存在时视为成功。
	Delete(ctx context.Context, key content.Key) error

	// List 枚举所有已提交的条目，供保留策略清理与诊断使用。
	List(ctx context.Context) ([]Entry, error)

	// Stage 为一次提取创建私有暂存目录，cleanup 会删除该目录及其残留文件。
	Stage(key content.Key) (dir string, cleanup func(), err error)

	// Commit 将提取器产出的文件原子地移动到规范路径，并返回新的 Entry。
	Commit(ctx context.Context, key content.Key, producedPath string) (*Entry, error)

	// Put 将 body 写入缓存。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。可选地根据 opts.ModTime 设置文件时间戳。
	Put(ctx context.Context, key content.Key, body io.Reader, opts PutOptions) (*Entry, error)

	// PurgeStaging 删除早于 cutoff 的暂存目录，返回删除数量。
	PurgeStaging(ctx context.Context, cutoff time.Time) (int, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 表示一个缓存条目，包含绝对文件路径及文件信息。
type Entry struct {
	Key       content.Key `json:"key"`
	FilePath  string      `json:"-"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"last_modified"`
}

// ByteRange 描述闭区间 [Start, End]，满足 0 <= Start <= End < Total。
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length 返回区间覆盖的字节数。
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// Valid 检查区间是否满足不变量。
func (r ByteRange) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End && r.End < r.Total
}

// ContentRange 输出 Content-Range 头的值，例如 bytes 200-499/1000。
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidRange 表示请求区间与当前文件大小不匹配。
	ErrInvalidRange = errors.New("byte range outside cache entry")
	// ErrIO 包装读取缓存文件过程中的底层 I/O 错误。
	ErrIO = errors.New("cache io error")
)
