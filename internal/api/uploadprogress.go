package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
)

// sseKeepalive bounds how long a stream waits for a fresh progress event
// before sending a ping, keeping idle proxies from closing the connection.
const sseKeepalive = 15 * time.Second

// handleUploadProgressGet answers GET /api/upload-progress/{uploadId}.
func (a *App) handleUploadProgressGet(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	snap, ok := a.UploadTracker.GetProgress(uploadID)
	if !ok {
		return respondError(c, apierr.New(apierr.CodeJobNotFound, "upload not found"))
	}
	return c.JSON(snap)
}

// handleUploadProgressActiveAll answers GET /api/upload-progress/active/all.
func (a *App) handleUploadProgressActiveAll(c *fiber.Ctx) error {
	return c.JSON(a.UploadTracker.GetAllActive())
}

// handleUploadProgressStream answers GET /api/upload-progress/stream/{uploadId}
// with an SSE feed of progress events (spec.md §6 "events `progress`
// carrying JSON"), generalizing the subscribe/ping/flush loop this
// codebase's other SSE handlers use, adapted to Fiber's stream writer.
func (a *App) handleUploadProgressStream(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	ch, unsubscribe, ok := a.UploadTracker.Subscribe(uploadID)
	if !ok {
		return respondError(c, apierr.New(apierr.CodeJobNotFound, "upload not found"))
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		if snap, ok := a.UploadTracker.GetProgress(uploadID); ok {
			writeSSEEvent(w, "progress", snap)
		}

		ping := time.NewTicker(sseKeepalive)
		defer ping.Stop()

		for {
			select {
			case evt, open := <-ch:
				if !open {
					return
				}
				if !writeSSEEvent(w, "progress", evt) {
					return
				}
			case <-ping.C:
				if _, err := fmt.Fprintf(w, "event: ping\ndata: {}\n\n"); err != nil || w.Flush() != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeSSEEvent(w *bufio.Writer, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	return w.Flush() == nil
}
