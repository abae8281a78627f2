// Package ws adapts the Event Publisher's subscriber queues onto real
// websocket connections, grounded on the venue's legacy
// HFTWebSocketManager/HFTConnection (internal/ws/manager): one
// goroutine pair per connection (readPump/writePump), ping/pong
// heartbeats, and a bounded per-connection send queue.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/config"
	"github.com/kairostrade/matchingcore/internal/events"
)

// StatsSink receives connection-count updates, satisfied by
// internal/metrics.Collector.
type StatsSink interface {
	SetWSConnections(n int)
	SetWSSubscribers(channel, symbol string, n int)
	RecordWSSlowConsumer(channel string)
}

// Manager upgrades HTTP requests to websocket connections and bridges
// them to the Event Publisher.
type Manager struct {
	publisher *events.Publisher
	cfg       config.WebSocketConfig
	logger    *zap.Logger
	stats     StatsSink

	upgrader  websocket.Upgrader
	connCount int64
}

// New creates a Manager. stats may be nil.
func New(publisher *events.Publisher, cfg config.WebSocketConfig, logger *zap.Logger, stats StatsSink) *Manager {
	return &Manager{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		stats:     stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// controlMessage is the client->server JSON protocol: subscribe,
// unsubscribe, and ping, per spec §4.6/§6.
type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type serverMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// connection is one client's socket plus its Event Publisher subscription.
type connection struct {
	id     string
	conn   *websocket.Conn
	sub    *events.Subscriber
	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc
}

// HandleUpgrade is the gin handler for the websocket upgrade route.
func (m *Manager) HandleUpgrade(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = c.ClientIP() + "-" + time.Now().Format("150405.000000000")
	}

	sub := events.NewSubscriber(clientID, 0)
	m.publisher.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	wconn := &connection{id: clientID, conn: conn, sub: sub, mgr: m, ctx: ctx, cancel: cancel}

	conn.SetReadLimit(m.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		sub.Touch()
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return nil
	})

	atomic.AddInt64(&m.connCount, 1)
	m.reportConnCount()

	go wconn.writePump()
	go wconn.readPump()
}

func (m *Manager) reportConnCount() {
	if m.stats != nil {
		m.stats.SetWSConnections(int(atomic.LoadInt64(&m.connCount)))
	}
}

func (c *connection) readPump() {
	defer func() {
		c.mgr.publisher.Disconnect(c.id)
		atomic.AddInt64(&c.mgr.connCount, -1)
		c.mgr.reportConnCount()
		c.cancel()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.mgr.logger.Debug("websocket read error", zap.Error(err), zap.String("client_id", c.id))
			}
			return
		}
		c.handleControlMessage(raw)
	}
}

func (c *connection) handleControlMessage(raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendServerMessage(serverMessage{Type: "error", Error: "malformed message"})
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Channel == "" || msg.Symbol == "" {
			c.sendServerMessage(serverMessage{Type: "error", Error: "channel and symbol are required"})
			return
		}
		channel := events.Channel(msg.Channel)
		if err := c.mgr.publisher.Subscribe(c.id, channel, msg.Symbol); err != nil {
			c.sendServerMessage(serverMessage{Type: "error", Channel: msg.Channel, Symbol: msg.Symbol, Error: err.Error()})
			return
		}
		c.sendServerMessage(serverMessage{Type: "subscribed", Channel: msg.Channel, Symbol: msg.Symbol})
	case "unsubscribe":
		c.mgr.publisher.Unsubscribe(c.id, events.Channel(msg.Channel), msg.Symbol)
		c.sendServerMessage(serverMessage{Type: "unsubscribed", Channel: msg.Channel, Symbol: msg.Symbol})
	case "ping":
		c.sendServerMessage(serverMessage{Type: "pong"})
	default:
		c.sendServerMessage(serverMessage{Type: "error", Error: "unknown message type"})
	}
}

func (c *connection) sendServerMessage(msg serverMessage) {
	msg.Timestamp = time.Now().UnixNano()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.sub.Offer(data) {
		c.mgr.logger.Warn("dropping control-plane ack, outbound queue full", zap.String("client_id", c.id))
	}
}

// writePump drains the subscriber's outbound queue onto the wire and sends
// periodic pings, per spec §4.6's heartbeat.
func (c *connection) writePump() {
	pingInterval := c.mgr.cfg.PongWait / 2
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case payload, ok := <-c.sub.Outbound:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.HandshakeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.HandshakeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
