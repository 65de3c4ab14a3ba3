// Package stream 把缓存条目写回 HTTP 响应，负责 Range 解析与 200/206/416 的字节计算。
package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/any-hub/audiohub/internal/cache"
)

var (
	// ErrMalformedRange 表示 Range 头无法解析。
	ErrMalformedRange = errors.New("malformed range")
	// ErrUnsatisfiableRange 表示 Range 可解析但与文件大小不相交。
	ErrUnsatisfiableRange = fmt.Errorf("%w: unsatisfiable", ErrMalformedRange)
)

const bytesUnit = "bytes="

// ParseRange 解析单个 Range 头。空头返回 nil；多段请求只取第一段；
// 超出文件末尾的 end 被截断到 total-1，起点越界或 start > end 视为不可满足。
func ParseRange(header string, total int64) (*cache.ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	if len(header) < len(bytesUnit) || !strings.EqualFold(header[:len(bytesUnit)], bytesUnit) {
		return nil, fmt.Errorf("%w: unsupported unit in %q", ErrMalformedRange, header)
	}

	set := header[len(bytesUnit):]
	if idx := strings.IndexByte(set, ','); idx >= 0 {
		set = set[:idx]
	}
	set = strings.TrimSpace(set)

	dash := strings.IndexByte(set, '-')
	if dash < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	startRaw := strings.TrimSpace(set[:dash])
	endRaw := strings.TrimSpace(set[dash+1:])

	if startRaw == "" {
		// 后缀形式 bytes=-N：最后 N 个字节。
		n, err := parseOffset(endRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if n == 0 || total == 0 {
			return nil, ErrUnsatisfiableRange
		}
		if n > total {
			n = total
		}
		return &cache.ByteRange{Start: total - n, End: total - 1, Total: total}, nil
	}

	start, err := parseOffset(startRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	end := total - 1
	if endRaw != "" {
		end, err = parseOffset(endRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
	}
	if start >= total || start > end {
		return nil, ErrUnsatisfiableRange
	}
	if end >= total {
		end = total - 1
	}
	return &cache.ByteRange{Start: start, End: end, Total: total}, nil
}

func parseOffset(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("empty offset")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid offset %q", raw)
		}
	}
	return strconv.ParseInt(raw, 10, 64)
}
