package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

// StreamTimeout bounds one event stream. The server's write timeout must
// exceed it or the stream is cut short.
const StreamTimeout = 5 * time.Minute

// StreamHandler pushes workflow status changes via Server-Sent Events.
type StreamHandler struct {
	bus     *service.EventBus
	timeout time.Duration
}

// NewStreamHandler creates a new SSE stream handler.
func NewStreamHandler(bus *service.EventBus) *StreamHandler {
	return &StreamHandler{bus: bus, timeout: StreamTimeout}
}

// Register sets up streaming routes.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Get("/knowledge/events", h.StreamEvents)
}

// StreamEvents streams upload status changes until the client goes away or
// the stream times out. An optional ?upload_id= narrows the stream.
func (h *StreamHandler) StreamEvents(c fiber.Ctx) error {
	uploadID := c.Query("upload_id")
	ch := h.bus.Subscribe()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.bus.Unsubscribe(ch)

		fmt.Fprintf(w, "event: ready\ndata: {}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		timeout := time.After(h.timeout)
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if uploadID != "" && evt.UploadID != uploadID {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					slog.Error("marshal workflow event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Status, data)
				if err := w.Flush(); err != nil {
					return
				}
			case <-timeout:
				fmt.Fprintf(w, "event: timeout\ndata: {}\n\n")
				w.Flush()
				return
			}
		}
	})
}
