package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MediaHandler describes the component serving /info, /audio and /stream.
// It allows injecting fake handlers during tests.
type MediaHandler interface {
	Info(fiber.Ctx) error
	Audio(fiber.Ctx) error
	Stream(fiber.Ctx) error
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger         *logrus.Logger
	AllowedOrigins []string
}

const contextKeyRequestID = "_audiohub_request_id"

// NewApp builds a Fiber application with the shared middleware chain and
// structured error handling. Routes are registered by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "audiohub",
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	app.Use(helmet.New(helmet.Config{
		// 音频需要被其他源（Capacitor/Ionic 前端）的 <audio> 标签加载。
		CrossOriginResourcePolicy: "cross-origin",
	}))
	if len(opts.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOriginsFunc: originMatcher(opts.AllowedOrigins),
			AllowCredentials: true,
			ExposeHeaders:    []string{"Content-Range", "Accept-Ranges", "Content-Length", "X-Request-ID", "X-Audio-Hub-Cache-Hit"},
		}))
	}
	app.Use(compress.New(compress.Config{
		// 音频响应需要保持原始字节以支持 Range 与 Content-Length。
		Next: func(c fiber.Ctx) bool {
			return isMediaPath(c.Path())
		},
	}))

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，写入响应头并保存在 Locals 中。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 把未匹配的路由映射为 404，其余未处理错误统一为 500。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) && (fe.Code == fiber.StatusNotFound || fe.Code == fiber.StatusMethodNotAllowed) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Endpoint not found"})
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "request",
			"method":     c.Method(),
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error("unhandled_error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// originMatcher 精确匹配白名单来源（大小写不敏感）。白名单包含 capacitor:// 与
// ionic:// 等非 HTTP scheme，cors.Config.AllowOrigins 只接受 http(s)，因此走函数匹配。
func originMatcher(origins []string) func(string) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := allowed[strings.ToLower(strings.TrimSpace(origin))]
		return ok
	}
}

func isMediaPath(path string) bool {
	return strings.HasPrefix(path, "/audio/") || strings.HasPrefix(path, "/stream/")
}
