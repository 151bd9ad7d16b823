package web

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"fdsn-service/services"
)

// WSMessage WebSocket消息结构
type WSMessage struct {
	Type      string      `json:"type"`
	Stage     string      `json:"stage,omitempty"`
	Unit      string      `json:"unit,omitempty"`
	Status    string      `json:"status,omitempty"`
	Completed int         `json:"completed,omitempty"`
	Total     int         `json:"total,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Client WebSocket客户端
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	stages map[string]bool // 阶段过滤器
}

// Hub WebSocket Hub
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *WSMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub 创建新的Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *WSMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Client registered. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("Client unregistered. Total clients: %d", len(h.clients))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// 检查过滤器
				if !client.shouldReceive(message) {
					continue
				}

				select {
				case client.send <- h.marshalMessage(message):
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					close(client.send)
					delete(h.clients, client)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// RelayBroker 订阅进度 Broker 的全部阶段 Topic，把进度事件转发给
// WebSocket 客户端。应在独立 goroutine 中运行
func (h *Hub) RelayBroker(broker services.MessageBroker) {
	stages := []services.Stage{
		services.StageFederation,
		services.StagePlanning,
		services.StageDownload,
		services.StageCleanup,
	}

	var wg sync.WaitGroup
	for _, stage := range stages {
		ch, err := broker.Consume(services.GetTopicName(string(stage)))
		if err != nil {
			log.Printf("Failed to subscribe to progress topic %s: %v", stage, err)
			continue
		}

		wg.Add(1)
		go func(ch <-chan services.BrokerMessage) {
			defer wg.Done()
			for msg := range ch {
				var update services.ProgressUpdate
				if err := json.Unmarshal(msg.Value, &update); err != nil {
					log.Printf("Failed to unmarshal progress update: %v", err)
					continue
				}
				h.broadcast <- &WSMessage{
					Type:      "progress",
					Stage:     string(update.Stage),
					Unit:      update.Unit,
					Status:    update.Status,
					Completed: update.Completed,
					Total:     update.Total,
					Data:      update.Message,
					Timestamp: update.Timestamp.Unix(),
				}
			}
		}(ch)
	}
	wg.Wait()
}

// marshalMessage 序列化消息
func (h *Hub) marshalMessage(message *WSMessage) []byte {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return []byte("{}")
	}
	return data
}

// shouldReceive 检查客户端是否应该接收消息
func (c *Client) shouldReceive(message *WSMessage) bool {
	// 如果没有设置过滤器,接收所有阶段
	if len(c.stages) == 0 {
		return true
	}
	if message.Stage == "" {
		return true
	}
	return c.stages[message.Stage]
}

// readPump 读取客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// 处理客户端消息(设置过滤器等)
		c.handleMessage(message)
	}
}

// writePump 向客户端写入消息
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleMessage 处理客户端发送的消息
func (c *Client) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("Failed to unmarshal client message: %v", err)
		return
	}

	msgType, ok := msg["type"].(string)
	if !ok {
		return
	}

	switch msgType {
	case "subscribe":
		// 订阅特定阶段的进度
		if stages, ok := msg["stages"].([]interface{}); ok {
			c.stages = make(map[string]bool)
			for _, s := range stages {
				if stage, ok := s.(string); ok {
					c.stages[stage] = true
				}
			}
		}
		log.Printf("Client subscribed to stages: %v", c.stages)

	case "unsubscribe":
		// 取消订阅
		c.stages = make(map[string]bool)
		log.Println("Client unsubscribed")
	}
}
