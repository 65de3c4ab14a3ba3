package proxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/content"
	"github.com/any-hub/audiohub/internal/extractor"
	"github.com/any-hub/audiohub/internal/fetch"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/server"
	"github.com/any-hub/audiohub/internal/stream"
)

const cacheHitHeader = "X-Audio-Hub-Cache-Hit"

// Fetcher 抽象 fetch.Coordinator，便于在测试中注入假实现。
type Fetcher interface {
	Fetch(ctx context.Context, req extractor.Request) (fetch.Result, error)
}

// Options 汇总 Handler 的依赖。
type Options struct {
	Fetcher       Fetcher
	Metadata      extractor.MetadataSource
	Responder     *stream.Responder
	Profile       extractor.Profile
	DefaultFormat content.Format
	Logger        *logrus.Logger
}

// Handler 负责 orchestrate “校验内容键 → 缓存命中或提取 → 流式响应” 的全流程，
// 对外暴露 /info、/audio、/stream 三个 Fiber handler。
type Handler struct {
	fetcher       Fetcher
	metadata      extractor.MetadataSource
	responder     *stream.Responder
	profile       extractor.Profile
	defaultFormat content.Format
	logger        *logrus.Logger
}

// NewHandler constructs a media handler from its collaborators.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Metadata == nil {
		return nil, errors.New("metadata source is required")
	}
	if opts.Responder == nil {
		return nil, errors.New("responder is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = content.DefaultFormat
	}
	return &Handler{
		fetcher:       opts.Fetcher,
		metadata:      opts.Metadata,
		responder:     opts.Responder,
		profile:       opts.Profile,
		defaultFormat: opts.DefaultFormat,
		logger:        opts.Logger,
	}, nil
}

// Info 返回元数据，不下载音频。
func (h *Handler) Info(c fiber.Ctx) error {
	started := time.Now()
	key, err := content.ParseKey(c.Params("id"))
	if err != nil {
		return h.writeError(c, fiber.StatusBadRequest, "invalid_content_key")
	}

	info, err := h.metadata.Metadata(requestContext(c), key)
	if err != nil {
		h.logResult(c, key, "info", "", false, started, err)
		if errors.Is(err, extractor.ErrMalformedMetadata) {
			return h.writeError(c, fiber.StatusInternalServerError, "Failed to parse video info")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "Failed to get video info")
	}

	h.logResult(c, key, "info", "", false, started, nil)
	return c.JSON(info)
}

// Audio 返回完整音频文件（附件形式），忽略 Range。
func (h *Handler) Audio(c fiber.Ctx) error {
	return h.serve(c, "audio", stream.Options{
		ContentType:  h.profile.MIME,
		AcceptRanges: false,
	}, true)
}

// Stream 返回音频并支持 Range，用于播放器拖动。
func (h *Handler) Stream(c fiber.Ctx) error {
	return h.serve(c, "stream", stream.Options{
		ContentType:  h.profile.MIME,
		AcceptRanges: true,
	}, false)
}

func (h *Handler) serve(c fiber.Ctx, endpoint string, opts stream.Options, attachment bool) error {
	started := time.Now()
	key, err := content.ParseKey(c.Params("id"))
	if err != nil {
		return h.writeError(c, fiber.StatusBadRequest, "invalid_content_key")
	}
	format, err := content.ParseFormatOr(c.Query("format"), h.defaultFormat)
	if err != nil {
		return h.writeError(c, fiber.StatusBadRequest, "invalid_format")
	}

	result, err := h.fetcher.Fetch(requestContext(c), extractor.Request{Key: key, Format: format})
	if err != nil {
		h.logResult(c, key, endpoint, format.String(), false, started, err)
		if errors.Is(err, fetch.ErrExtractionIncomplete) {
			return h.writeError(c, fiber.StatusInternalServerError, "Download completed but file not found")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "Failed to download audio")
	}

	if attachment {
		opts.Disposition = fmt.Sprintf(`attachment; filename="%s.%s"`, key, h.profile.Ext)
	}
	c.Set(cacheHitHeader, strconv.FormatBool(result.CacheHit))

	err = h.responder.Respond(c, result.Entry, c.Get(fiber.HeaderRange), opts)
	h.logResult(c, key, endpoint, format.String(), result.CacheHit, started, err)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			// 条目在命中判断与打开之间被清理。
			return h.writeError(c, fiber.StatusInternalServerError, "Audio file no longer available")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "Failed to read audio")
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, message string) error {
	c.Response().Header.Del(cacheHitHeader)
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (h *Handler) logResult(
	c fiber.Ctx,
	key content.Key,
	endpoint string,
	format string,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(key.String(), endpoint, format, cacheHit)
	fields["action"] = "media"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("media_failed")
		return
	}
	h.logger.WithFields(fields).Info("media_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
