package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/broadcast"
)

// EventsHandler streams seat status changes of one showtime to browsers
// over server-sent events.
type EventsHandler struct {
	Fanout    *broadcast.Fanout
	Heartbeat time.Duration
}

func NewEventsHandler(f *broadcast.Fanout) *EventsHandler {
	return &EventsHandler{Fanout: f, Heartbeat: 25 * time.Second}
}

// Stream handles GET /seats/events/:showtimeId.  The subscription lives as
// long as the request.
func (h *EventsHandler) Stream(c echo.Context) error {
	showtimeID, ok := parseID(c, "showtimeId")
	if !ok {
		return badRequest(c, "invalid showtime id")
	}
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	sub := h.Fanout.Add(broadcast.Topic(showtimeID))
	defer h.Fanout.Remove(sub)

	ping := time.NewTicker(h.Heartbeat)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: seat\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
