package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/audiohub/internal/server"
)

// RegisterMediaRoutes 挂载 /info、/audio、/stream 三个媒体接口。
func RegisterMediaRoutes(app *fiber.App, handler server.MediaHandler) {
	if app == nil || handler == nil {
		return
	}
	app.Get("/info/:id", handler.Info)
	app.Get("/audio/:id", handler.Audio)
	app.Get("/stream/:id", handler.Stream)
}
