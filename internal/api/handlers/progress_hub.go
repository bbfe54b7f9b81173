package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/pipeline"
)

// AllBuilds 订阅所有构建
const AllBuilds = "all"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	clientBuffer = 64
)

// ProgressMessage 推送给客户端的消息
type ProgressMessage struct {
	Type      string         `json:"type"` // status, progress, failed, succeeded
	BuildID   string         `json:"build_id"`
	Data      pipeline.Event `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

type hubClient struct {
	buildID string
	conn    *websocket.Conn
	send    chan ProgressMessage
}

// ProgressHub 把流水线事件推送给 websocket 客户端，实现 pipeline.Sink
type ProgressHub struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Emit 非阻塞；慢客户端的消息被丢弃
func (h *ProgressHub) Emit(e pipeline.Event) {
	msg := ProgressMessage{
		Type:      pipeline.EventType(e),
		BuildID:   e.Build(),
		Data:      e,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.buildID != AllBuilds && c.buildID != msg.BuildID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.WithField("build_id", msg.BuildID).Debug("WebSocket client too slow, message dropped")
		}
	}
}

// Clients 当前连接数
func (h *ProgressHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket GET /ws/builds/:id
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	buildID := c.Param("id")
	if buildID == "" {
		buildID = AllBuilds
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &hubClient{buildID: buildID, conn: conn, send: make(chan ProgressMessage, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.WithField("build_id", buildID).Info("WebSocket client connected")

	go h.writeLoop(client)
	h.readLoop(client)

	h.mu.Lock()
	delete(h.clients, client)
	close(client.send)
	h.mu.Unlock()

	h.logger.WithField("build_id", buildID).Info("WebSocket client disconnected")
}

// readLoop 只处理 pong 和关闭
func (h *ProgressHub) readLoop(c *hubClient) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}

func (h *ProgressHub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
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
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
