// Package events 把文件变更广播给 websocket 订阅者。
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teledrive-go/pkg/log"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Event 是推送给客户端的消息。
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Hub 维护订阅者集合。Publish 从不阻塞，慢订阅者会丢失消息。
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	buffer int
	closed bool
}

// NewHub 创建 Hub，buffer 是每个订阅者的缓冲消息数。
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{subs: make(map[chan []byte]struct{}), buffer: buffer}
}

// Publish 序列化一次后发送给所有订阅者。
func (h *Hub) Publish(eventType string, payload any) {
	msg, err := json.Marshal(Event{Type: eventType, Data: payload, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		log.Warnf("[Events] 序列化事件失败, type=%s, error=%v", eventType, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			log.Warnf("[Events] 订阅者处理过慢，丢弃事件 %s", eventType)
		}
	}
}

// Subscribe 注册一个订阅者，返回消息通道和取消函数。Hub 关闭后通道会被关闭。
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// SubscriberCount 返回当前订阅者数量。
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭所有订阅者通道，之后的订阅立即结束。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeConn 把事件写入一个已升级的 websocket 连接，直到客户端断开或 Hub 关闭。
// 客户端发来的消息被忽略，只用于感知断开。
func (h *Hub) ServeConn(conn *websocket.Conn) {
	ch, cancel := h.Subscribe()
	defer cancel()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warnf("[Events] 写入 websocket 失败: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
