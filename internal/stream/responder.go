package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
)

// Options 控制单次响应的头部与 Range 行为。
type Options struct {
	ContentType string
	// Disposition 非空时写入 Content-Disposition。
	Disposition string
	// AcceptRanges 为 true 时解析 Range 头并声明 Accept-Ranges: bytes；
	// 为 false 时忽略 Range，总是返回完整内容。
	AcceptRanges bool
}

// Responder 从缓存读取条目并以流式方式写出响应体。
type Responder struct {
	store  cache.Store
	logger *logrus.Logger
}

// NewResponder 构造 Responder。
func NewResponder(store cache.Store, logger *logrus.Logger) *Responder {
	return &Responder{store: store, logger: logger}
}

// Respond 写出 200（完整）、206（部分）或 416（不可满足）响应。
// 响应体在 handler 返回后由 fasthttp 惰性读取，读取中途的错误会被记录并中断响应。
func (r *Responder) Respond(c fiber.Ctx, entry cache.Entry, rangeHeader string, opts Options) error {
	var rng *cache.ByteRange
	if opts.AcceptRanges {
		c.Set(fiber.HeaderAcceptRanges, "bytes")
		parsed, err := ParseRange(rangeHeader, entry.SizeBytes)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "stream",
				"video_id": entry.Key,
				"range":    rangeHeader,
				"size":     entry.SizeBytes,
			}).Warn("range_not_satisfiable")
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", entry.SizeBytes))
			return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{
				"error": "range_not_satisfiable",
			})
		}
		rng = parsed
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	reader, err := r.store.OpenRange(ctx, entry.Key, rng)
	if err != nil {
		return err
	}

	if opts.ContentType != "" {
		c.Set(fiber.HeaderContentType, opts.ContentType)
	}
	if opts.Disposition != "" {
		c.Set(fiber.HeaderContentDisposition, opts.Disposition)
	}

	length := entry.SizeBytes
	status := fiber.StatusOK
	if rng != nil {
		length = rng.Length()
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, rng.ContentRange())
	}
	c.Status(status)

	return c.SendStream(&loggingReader{
		reader: reader,
		logger: r.logger,
		key:    entry.Key.String(),
	}, int(length))
}

// loggingReader 在流式读取失败时记录日志，Close 时释放底层文件。
type loggingReader struct {
	reader io.ReadCloser
	logger *logrus.Logger
	key    string
	read   int64
}

func (l *loggingReader) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	l.read += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "stream",
			"video_id":   l.key,
			"bytes_sent": l.read,
		}).Error("stream_read_failed")
	}
	return n, err
}

func (l *loggingReader) Close() error {
	return l.reader.Close()
}
