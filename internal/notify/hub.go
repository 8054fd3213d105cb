package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are filtered by the CORS layer in front of the router
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the frame written to a session
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one connected session of a user
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int
	send   chan []byte
	once   sync.Once
}

// Hub is a Sink that writes events to every open session of the target user
type Hub struct {
	mu      sync.RWMutex
	clients map[int]map[*Client]struct{}
	metrics *metrics.Metrics
	log     logger.Interface
}

var _ Sink = (*Hub)(nil)

// NewHub creates an empty Hub. m may be nil
func NewHub(m *metrics.Metrics, log logger.Interface) *Hub {
	return &Hub{clients: map[int]map[*Client]struct{}{}, metrics: m, log: log}
}

// Register adds c to the sessions of its user
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	sessions, ok := h.clients[c.userID]
	if !ok {
		sessions = map[*Client]struct{}{}
		h.clients[c.userID] = sessions
	}
	sessions[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.SessionOpened()
	h.log.Debug("session registered", logger.NewField("user_id", c.userID))
}

// Unregister removes c and closes its send channel. It is safe to call twice
func (h *Hub) Unregister(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		if sessions, ok := h.clients[c.userID]; ok {
			delete(sessions, c)
			if len(sessions) == 0 {
				delete(h.clients, c.userID)
			}
		}
		h.mu.Unlock()
		close(c.send)

		h.metrics.SessionClosed()
		h.log.Debug("session unregistered", logger.NewField("user_id", c.userID))
	})
}

// Connected reports how many sessions userID has open
func (h *Hub) Connected(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Emit sends event to every session of userID. A session whose buffer is
// full misses the event
func (h *Hub) Emit(userID int, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := h.clients[userID]
	if len(sessions) == 0 {
		return
	}

	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.log.Error(err, logger.NewField("action", "encode_event"), logger.NewField("event", event))
		return
	}
	for c := range sessions {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("session buffer full, event dropped",
				logger.NewField("user_id", userID),
				logger.NewField("event", event))
		}
	}
}

func (h *Hub) NotifyOrderCreated(userID int, order models.Order) {
	h.Emit(userID, EventOrderCreated, order)
}

func (h *Hub) NotifyMatched(userID int, match models.Match) {
	h.Emit(userID, EventOrderMatched, match)
}

func (h *Hub) NotifyOrderCancelled(userID int, orderID int) {
	h.Emit(userID, EventOrderCancelled, map[string]int{"orderId": orderID})
}

func (h *Hub) NotifyBalanceChanged(userID int, _ models.Currency, balance Balance) {
	h.Emit(userID, EventBalanceUpdated, balance)
}

// ServeWS upgrades the request and attaches the session to userID until the
// peer goes away. Authentication happens before this is called
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "websocket upgrade failed", logger.NewField("error", err.Error()))
		return
	}

	c := &Client{hub: h, conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
	h.Register(c)

	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames; sessions are push-only
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("session closed unexpectedly",
					logger.NewField("user_id", c.userID),
					logger.NewField("error", err.Error()))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
