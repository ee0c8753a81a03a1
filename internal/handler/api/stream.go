package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	xlogger "github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	sendBuffer   = 64
)

// Outcome is one frame sent to stream clients.
type Outcome struct {
	Topic   string          `json:"topic"`
	TraceID string          `json:"trace_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// OutcomeHub streams verdicts, stale-surface rejections, risk snapshots and
// alerts to websocket clients. A client that cannot keep up is disconnected.
type OutcomeHub struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

func NewOutcomeHub(logger *xlogger.Logger) *OutcomeHub {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OutcomeHub{
		logger: logger.With(xlogger.String("component", "outcome_stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *OutcomeHub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/outcomes", h.Serve)
}

// Clients returns the number of connected clients.
func (h *OutcomeHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *OutcomeHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("stream client connected", xlogger.String("remote", c.RealIP()))

	go h.writeLoop(cl)
	h.readLoop(cl)
	return nil
}

// readLoop only tracks liveness; clients never send frames we act on.
func (h *OutcomeHub) readLoop(cl *streamClient) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *OutcomeHub) writeLoop(cl *streamClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(cl)
				return
			}
		}
	}
}

func (h *OutcomeHub) drop(cl *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[cl]
	delete(h.clients, cl)
	h.mu.Unlock()
	if ok {
		cl.close()
	}
}

// Broadcast sends one frame to every client.
func (h *OutcomeHub) Broadcast(o Outcome) {
	b, err := json.Marshal(o)
	if err != nil {
		h.logger.Warn("encode outcome", xlogger.Error(err))
		return
	}
	h.mu.RLock()
	var slow []*streamClient
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()
	for _, cl := range slow {
		h.logger.Warn("stream client too slow, disconnecting")
		h.drop(cl)
	}
}

// Close disconnects every client.
func (h *OutcomeHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()
	for cl := range clients {
		cl.close()
	}
}

// Handlers returns the handlers of the ops consumer group feeding the hub.
func (h *OutcomeHub) Handlers() []bus.Handler {
	forward := func(topic string) bus.Handler {
		return bus.HandlerFunc{Name: topic, Fn: func(ctx context.Context, b []byte) error {
			h.Broadcast(Outcome{Topic: topic, TraceID: bus.TraceID(ctx), Data: b})
			return nil
		}}
	}
	return []bus.Handler{
		forward(models.TopicRiskVerdict),
		forward(models.TopicPortfolioRisk),
		forward(models.TopicRiskAlert),
		bus.HandlerFunc{Name: models.TopicExecRejected, Fn: func(ctx context.Context, b []byte) error {
			var rej models.ExecutionRejectedEvent
			if err := json.Unmarshal(b, &rej); err != nil || rej.Kind != models.KindStaleSurface {
				return nil
			}
			h.Broadcast(Outcome{Topic: models.TopicExecRejected, TraceID: bus.TraceID(ctx), Data: b})
			return nil
		}},
	}
}
