package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/storycanvas/api/internal/model"
)

// Client represents a WebSocket client subscribed to one project board
type Client struct {
	ProjectID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub maintains active WebSocket connections and fans pipeline progress out
// to project subscribers
type Hub struct {
	// Clients grouped by project ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to project subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	ProjectID string
	Message   []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ProjectID] == nil {
				h.clients[client.ProjectID] = make(map[*Client]bool)
			}
			h.clients[client.ProjectID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for project %s", client.ProjectID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ProjectID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.ProjectID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from project %s", client.ProjectID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.ProjectID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastLog sends one appended progress-log line to project subscribers
func (h *Hub) BroadcastLog(projectID, line string) {
	h.send(projectID, model.WSLogMessage{
		Type:      model.WSMessageTypeLog,
		ProjectID: projectID,
		Line:      line,
	})
}

// BroadcastStatus sends a per-record status change to project subscribers
func (h *Hub) BroadcastStatus(projectID string, kind model.TargetKind, targetID, status, url string) {
	h.send(projectID, model.WSStatusMessage{
		Type:       model.WSMessageTypeStatus,
		ProjectID:  projectID,
		TargetKind: kind,
		TargetID:   targetID,
		Status:     status,
		URL:        url,
	})
}

// BroadcastComplete signals the end of a pipeline run
func (h *Hub) BroadcastComplete(projectID, runID string, state model.RunState) {
	h.send(projectID, model.WSCompleteMessage{
		Type:      model.WSMessageTypeComplete,
		ProjectID: projectID,
		RunID:     runID,
		State:     state,
	})
}

// BroadcastError sends an error message to project subscribers
func (h *Hub) BroadcastError(projectID, code, message string) {
	h.send(projectID, model.WSErrorMessage{
		Type:      model.WSMessageTypeError,
		ProjectID: projectID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) send(projectID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		ProjectID: projectID,
		Message:   data,
	}
}

// HandleConnection handles a WebSocket connection for one project
func (h *Hub) HandleConnection(c *websocket.Conn, projectID string) {
	client := &Client{
		ProjectID: projectID,
		Conn:      c,
		Send:      make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Writer goroutine with keep-alive pings
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop keeps the connection open and answers pings
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.TextMessage {
			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err == nil && msg.Type == model.WSMessageTypePing {
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				select {
				case client.Send <- pong:
				default:
				}
			}
		}
	}
}
