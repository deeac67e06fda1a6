package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Message is the websocket envelope for a toast.
type Message struct {
	Type  string `json:"type"`
	Toast Toast  `json:"toast"`
}

// Hub streams bus toasts to websocket clients.
type Hub struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.Mutex
	clients int
}

// NewHub creates a hub fed by bus.
func NewHub(bus *Bus, log *logrus.Entry) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// ServeWS upgrades the request and streams toasts until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	toasts, cancel := h.bus.Subscribe(64)
	h.track(1)
	h.log.WithField("user", username).Info("websocket client connected")

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, toasts, done)

	cancel()
	h.track(-1)
	h.log.WithField("user", username).Info("websocket client disconnected")
}

func (h *Hub) track(delta int) {
	h.mu.Lock()
	h.clients += delta
	h.mu.Unlock()
}

// readPump only services control frames; clients never send toasts.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, toasts <-chan Toast, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case toast, ok := <-toasts:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(Message{Type: "toast", Toast: toast})
			if err != nil {
				h.log.WithError(err).Error("marshal toast")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
