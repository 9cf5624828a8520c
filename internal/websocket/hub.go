package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Clients refetch only when a version changes, at most once per heartbeat
	versionHeartbeatInterval = 2 * time.Second

	sendBuffer = 64

	TypeRankingUpdate = "RANKING_UPDATE"
	TypePointsUpdate  = "POINTS_UPDATE"
)

// VersionSource exposes the change counters the hub watches
type VersionSource interface {
	GetRankingVersion(ctx context.Context) (int64, error)
	GetPointsVersion(ctx context.Context) (int64, error)
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts version changes
// to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	source    VersionSource
	onRanking func(ctx context.Context)
	logger    *slog.Logger
	interval  time.Duration

	mu sync.RWMutex

	// owned by the Run goroutine
	rankingVersion int64
	pointsVersion  int64
}

// VersionUpdate is the message pushed to clients
type VersionUpdate struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// NewHub creates a new WebSocket hub. onRanking, if set, runs before a
// ranking change is broadcast so the local snapshot is fresh when clients
// refetch.
func NewHub(source VersionSource, onRanking func(ctx context.Context), logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		source:     source,
		onRanking:  onRanking,
		logger:     logger,
		interval:   versionHeartbeatInterval,
	}
}

// Run starts the WebSocket hub
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", n)
			h.sendInitial(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", n)

		case <-ticker.C:
			h.checkAndBroadcast(ctx)

		case <-ctx.Done():
			h.logger.Info("websocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// checkAndBroadcast compares both counters with the last seen values and
// broadcasts whichever moved
func (h *Hub) checkAndBroadcast(ctx context.Context) {
	ranking, err := h.source.GetRankingVersion(ctx)
	if err != nil {
		h.logger.Warn("read ranking version failed", "error", err)
	} else if ranking != h.rankingVersion {
		h.rankingVersion = ranking
		if h.onRanking != nil {
			h.onRanking(ctx)
		}
		h.broadcast(VersionUpdate{Type: TypeRankingUpdate, Version: ranking})
	}

	points, err := h.source.GetPointsVersion(ctx)
	if err != nil {
		h.logger.Warn("read points version failed", "error", err)
	} else if points != h.pointsVersion {
		h.pointsVersion = points
		h.broadcast(VersionUpdate{Type: TypePointsUpdate, Version: points})
	}
}

func (h *Hub) broadcast(update VersionUpdate) {
	message, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("marshal version update failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.logger.Debug("broadcasting version", "type", update.Type, "version", update.Version, "clients", len(h.clients))
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// slow client, it will catch up on the next change
		}
	}
}

// sendInitial tells a new client the current versions
func (h *Hub) sendInitial(ctx context.Context, client *Client) {
	ranking, rerr := h.source.GetRankingVersion(ctx)
	points, perr := h.source.GetPointsVersion(ctx)
	if rerr != nil || perr != nil {
		h.logger.Warn("read initial versions failed", "ranking_error", rerr, "points_error", perr)
		return
	}
	for _, u := range []VersionUpdate{
		{Type: TypeRankingUpdate, Version: ranking},
		{Type: TypePointsUpdate, Version: points},
	} {
		message, err := json.Marshal(u)
		if err != nil {
			continue
		}
		select {
		case client.send <- message:
		default:
		}
	}
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection until the peer goes away. Clients are not
// expected to send anything.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeWS handles WebSocket requests from clients
func ServeWS(hub *Hub, conn *websocket.Conn) {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()

	// blocks until disconnect
	client.readPump()
}
