package studio

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"papercut-studio-go/src/core/pipeline"
	"papercut-studio-go/src/core/utils"
)

// ProgressHub 进度推送中心：流水线事件实时广播给所有连接的操作端。
// 抠取重试可能跑几分钟，操作端靠这里看到每次尝试的校验结果。
type ProgressHub struct {
	logger   *utils.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewProgressHub 创建进度推送中心
func NewProgressHub(logger *utils.Logger) *ProgressHub {
	return &ProgressHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 操作端可能跑在别的端口上
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWS 升级连接并登记客户端
func (h *ProgressHub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.FormatWarn("WebSocket升级失败: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.FormatInfo("进度推送客户端已连接，当前%d个", total)

	// 读循环只为感知断开，收到的消息直接丢弃
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *ProgressHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Broadcast 向所有客户端推送事件，写失败的连接就地剔除
func (h *ProgressHub) Broadcast(event pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// Close 关闭全部连接
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
