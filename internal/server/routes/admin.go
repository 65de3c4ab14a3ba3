package routes

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/content"
)

// healthTimeLayout 是毫秒精度的 UTC ISO-8601 时间戳。
const healthTimeLayout = "2006-01-02T15:04:05.000Z"

// AdminOptions 汇总运维接口依赖。
type AdminOptions struct {
	Store   cache.Store
	Sweeper *cache.Sweeper
	// InFlight 返回正在提取的内容键，可为空。
	InFlight func() []string
}

// RegisterAdminRoutes 暴露 /health、DELETE /cleanup 与 /-/store 诊断接口。
func RegisterAdminRoutes(app *fiber.App, opts AdminOptions) {
	if app == nil {
		return
	}

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(healthTimeLayout),
		})
	})

	if opts.Sweeper != nil {
		app.Delete("/cleanup", func(c fiber.Ctx) error {
			result, err := opts.Sweeper.Sweep(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cleanup failed"})
			}
			return c.JSON(fiber.Map{
				"message":      fmt.Sprintf("Cleaned up %d old files", result.Deleted),
				"deletedCount": result.Deleted,
			})
		})
	}

	if opts.Store == nil {
		return
	}

	app.Get("/-/store", func(c fiber.Ctx) error {
		entries, err := opts.Store.List(c.Context())
		if err != nil {
			return err
		}
		inFlight := []string{}
		if opts.InFlight != nil {
			inFlight = append(inFlight, opts.InFlight()...)
		}
		encoded, total := encodeEntries(entries, opts.Sweeper)
		return c.JSON(storePayload{
			Entries:    encoded,
			TotalBytes: total,
			InFlight:   inFlight,
		})
	})

	app.Get("/-/store/:id", func(c fiber.Ctx) error {
		key, err := content.ParseKey(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_content_key"})
		}
		entry, err := opts.Store.Stat(c.Context(), key)
		if errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
		}
		if err != nil {
			return err
		}
		return c.JSON(encodeEntry(entry, opts.Sweeper))
	})
}

type storePayload struct {
	Entries    []entryPayload `json:"entries"`
	TotalBytes int64          `json:"totalBytes"`
	InFlight   []string       `json:"inFlight"`
}

type entryPayload struct {
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"sizeBytes"`
	LastModified time.Time `json:"lastModified"`
	AgeSeconds   int64     `json:"ageSeconds"`
	Expired      bool      `json:"expired"`
}

func encodeEntries(entries []cache.Entry, sweeper *cache.Sweeper) ([]entryPayload, int64) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	result := make([]entryPayload, 0, len(entries))
	var total int64
	for _, entry := range entries {
		result = append(result, encodeEntry(entry, sweeper))
		total += entry.SizeBytes
	}
	return result, total
}

func encodeEntry(entry cache.Entry, sweeper *cache.Sweeper) entryPayload {
	payload := entryPayload{
		Key:          entry.Key.String(),
		SizeBytes:    entry.SizeBytes,
		LastModified: entry.ModTime.UTC(),
		AgeSeconds:   int64(time.Since(entry.ModTime) / time.Second),
	}
	if sweeper != nil {
		payload.Expired = sweeper.Expired(entry)
	}
	return payload
}
