package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"teledrive-go/pkg/events"
	"teledrive-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// EventsHandler 把文件事件推送给 websocket 客户端。
type EventsHandler struct {
	hub *events.Hub
}

// NewEventsHandler 创建一个新的 EventsHandler 实例。
func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Handle 升级连接并持续推送事件，直到客户端断开。
func (h *EventsHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	log.Infof("WebSocket 客户端已连接: %s", c.ClientIP())
	h.hub.ServeConn(conn)
	log.Infof("WebSocket 客户端已断开: %s", c.ClientIP())
}
