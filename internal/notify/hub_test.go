package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
)

func newClient(h *Hub, userID, buffer int) *Client {
	return &Client{hub: h, userID: userID, send: make(chan []byte, buffer)}
}

func readMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case b := <-c.send:
		var m Message
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	default:
		t.Fatal("no message queued")
		return Message{}
	}
}

func TestHub_Emit(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	a1, a2 := newClient(h, 1, 4), newClient(h, 1, 4)
	b := newClient(h, 2, 4)
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}
	assert.Equal(t, 2, h.Connected(1))

	h.NotifyOrderCancelled(1, 42)

	for _, c := range []*Client{a1, a2} {
		m := readMessage(t, c)
		assert.Equal(t, EventOrderCancelled, m.Event)
		assert.Equal(t, map[string]any{"orderId": float64(42)}, m.Data)
	}
	assert.Empty(t, b.send, "other users get nothing")
}

func TestHub_NotifyBalances(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	c := newClient(h, 7, 4)
	h.Register(c)

	u := &models.User{ID: 7, BTCAvailable: decimal.RequireFromString("1.5"), BTCOnHold: decimal.Zero,
		USDAvailable: decimal.RequireFromString("10"), USDOnHold: decimal.RequireFromString("2.25")}
	NotifyBalances(h, u)

	btc, usd := readMessage(t, c), readMessage(t, c)
	assert.Equal(t, EventBalanceUpdated, btc.Event)
	assert.Equal(t, "BTC", btc.Data.(map[string]any)["currency"])
	assert.Equal(t, "1.5", btc.Data.(map[string]any)["available"])
	assert.Equal(t, "USD", usd.Data.(map[string]any)["currency"])
	assert.Equal(t, "2.25", usd.Data.(map[string]any)["onHold"])
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	c := newClient(h, 1, 1)
	h.Register(c)

	h.Emit(1, "first", nil)
	h.Emit(1, "second", nil)

	assert.Equal(t, "first", readMessage(t, c).Event)
	assert.Empty(t, c.send)
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	c := newClient(h, 1, 1)
	h.Register(c)

	h.Unregister(c)
	h.Unregister(c)
	assert.Zero(t, h.Connected(1))

	_, ok := <-c.send
	assert.False(t, ok, "send channel closed")

	// nobody left to receive; must not panic
	h.Emit(1, EventOrderCreated, nil)
}

func TestHub_ServeWS(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, 5)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Connected(5) == 1 }, time.Second, 5*time.Millisecond)

	h.NotifyOrderCreated(5, models.Order{ID: 3, Side: models.Buy})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, EventOrderCreated, m.Event)
	assert.EqualValues(t, 3, m.Data.(map[string]any)["id"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return h.Connected(5) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_ServeWSRejectsPlainHTTP(t *testing.T) {
	h := NewHub(nil, logger.Nop())
	rec := httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil), 1)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.Connected(1))
}
