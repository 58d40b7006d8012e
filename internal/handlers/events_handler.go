package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/crawl"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler streams crawl progress events over a websocket.
type EventsHandler struct {
	store  interfaces.CoordStore
	logger arbor.ILogger
}

func NewEventsHandler(store interfaces.CoordStore, logger arbor.ILogger) *EventsHandler {
	return &EventsHandler{store: store, logger: logger}
}

// Events handles GET /v1/crawl/{id}/events. The stream closes once the
// crawl publishes its completion event or the client disconnects.
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	crawlID := pathID(r.URL.Path)
	if crawlID == "" {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, "missing crawl id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.store.Subscribe(crawl.EventsChannel(crawlID))
	defer cancel()

	// Reader goroutine notices client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			var ev crawl.Event
			if err := json.Unmarshal([]byte(msg), &ev); err == nil && (ev.Type == "completed" || ev.Type == "cancelled") {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Type),
					time.Now().Add(5*time.Second))
				return
			}
		}
	}
}
