package utils

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long one slow client can hold a broadcast goroutine.
const writeTimeout = 100 * time.Millisecond

// WebSocketHub fans daemon events out to connected UI clients. Events are
// encoded once per broadcast and the same frame is written to every client.
type WebSocketHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *WebSocketHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *WebSocketHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WebSocketHub) Broadcast(event WebSocketEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Printf("WS: cannot encode %s event: %v", event.Type, err)
		return
	}

	h.mu.Lock()
	// Snapshot so slow clients never hold the lock during writes.
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failedClients []*websocket.Conn
	var failedMu sync.Mutex

	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()

			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				failedMu.Lock()
				failedClients = append(failedClients, c)
				failedMu.Unlock()
			}
		}(conn)
	}

	wg.Wait()

	for _, conn := range failedClients {
		h.RemoveClient(conn)
	}
}
