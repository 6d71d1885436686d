package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/overview"
	"github.com/nicktill/tinysummary/pkg/period"
	"github.com/nicktill/tinysummary/pkg/summary"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// UpdateEvent is pushed to subscribers after every overview update
type UpdateEvent struct {
	Product      string    `json:"product"`
	Period       string    `json:"period"`
	Granularity  string    `json:"granularity"`
	Year         int       `json:"year,omitempty"`
	Month        int       `json:"month,omitempty"`
	Day          int       `json:"day,omitempty"`
	DatasetCount int       `json:"dataset_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// NewUpdateEvent describes the update of key to o
func NewUpdateEvent(key period.Key, o *overview.Overview) UpdateEvent {
	return UpdateEvent{
		Product:      httpx.ProductSegment(key),
		Period:       key.String(),
		Granularity:  key.Granularity().String(),
		Year:         key.Year,
		Month:        key.Month,
		Day:          key.Day,
		DatasetCount: o.DatasetCount,
		GeneratedAt:  o.SummaryGenTime,
	}
}

// UpdateHub manages WebSocket connections streaming overview updates
type UpdateHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	log zerolog.Logger
	mu  sync.RWMutex
}

// NewUpdateHub creates a new WebSocket hub
func NewUpdateHub(log zerolog.Logger) *UpdateHub {
	return &UpdateHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        log,
	}
}

// Listener returns a summary listener broadcasting each update.
// It never blocks the update that triggered it.
func (h *UpdateHub) Listener() summary.Listener {
	return func(key period.Key, o *overview.Overview) {
		if !h.HasClients() {
			return
		}
		if err := h.Broadcast(NewUpdateEvent(key, o)); err != nil {
			h.log.Warn().Err(err).Str("period", key.String()).Msg("failed to broadcast update")
		}
	}
}

// Run starts the hub's main loop
func (h *UpdateHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client connected")
		case conn := <-h.unregister:
			h.remove(conn)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug().Err(err).Msg("websocket write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *UpdateHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", count).Msg("websocket client disconnected")
}

// Broadcast sends a message to all connected clients.
// Messages are dropped when the broadcast buffer is full.
func (h *UpdateHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Msg("broadcast channel full, dropping message")
	}
	return nil
}

// HasClients returns true if there are any connected WebSocket clients
func (h *UpdateHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles GET /v1/ws upgrade requests
func (h *UpdateHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Keepalive pings
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// WriteControl may run concurrently with the hub's writes
				deadline := time.Now().Add(config.WSWriteDeadline)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		h.unregister <- conn
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Only control frames are expected from clients
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}
