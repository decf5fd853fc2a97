package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// Client is one subscriber watching a prompt's poll progress
type Client struct {
	PromptID string
	Conn     *websocket.Conn
	Send     chan []byte
}

// Hub fans poll progress out to WebSocket subscribers. Subscribers attach
// by prompt id, so a resumed background poll reaches the same watchers as
// the original run.
type Hub struct {
	// Subscribers grouped by prompt ID
	watchers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	events     chan *promptEvent

	mu sync.RWMutex
}

// promptEvent is one serialized message addressed to a prompt's watchers
type promptEvent struct {
	PromptID string
	Payload  []byte
}

func NewHub() *Hub {
	return &Hub{
		watchers:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *promptEvent, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.watchers[client.PromptID] == nil {
				h.watchers[client.PromptID] = make(map[*Client]bool)
			}
			h.watchers[client.PromptID][client] = true
			h.mu.Unlock()
			log.Printf("[Hub] Watcher attached to prompt %s", client.PromptID)

		case client := <-h.unregister:
			h.mu.Lock()
			if watchers, ok := h.watchers[client.PromptID]; ok {
				if _, ok := watchers[client]; ok {
					delete(watchers, client)
					close(client.Send)
					if len(watchers) == 0 {
						delete(h.watchers, client.PromptID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("[Hub] Watcher detached from prompt %s", client.PromptID)

		case ev := <-h.events:
			// Write lock: dropping a slow consumer mutates the watcher set.
			h.mu.Lock()
			if watchers, ok := h.watchers[ev.PromptID]; ok {
				for client := range watchers {
					select {
					case client.Send <- ev.Payload:
					default:
						// Slow consumer: drop it rather than stall the loop.
						close(client.Send)
						delete(watchers, client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// send marshals a message and queues it for the prompt's watchers
func (h *Hub) send(promptID string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] Failed to marshal message for prompt %s: %v", promptID, err)
		return
	}
	h.events <- &promptEvent{PromptID: promptID, Payload: payload}
}

// BroadcastProgress sends a poll progress update to all prompt watchers
func (h *Hub) BroadcastProgress(promptID string, attempt, maxAttempts int, status model.JobStatus, step string) {
	h.send(promptID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		PromptID:    promptID,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends the final run result to all prompt watchers
func (h *Hub) BroadcastComplete(promptID string, result *model.RunResult) {
	h.send(promptID, model.WSCompleteMessage{
		Type:     model.WSMessageTypeComplete,
		PromptID: promptID,
		Result:   result,
	})
}

// BroadcastError sends a terminal failure to all prompt watchers
func (h *Hub) BroadcastError(promptID, code, message string) {
	h.send(promptID, model.WSErrorMessage{
		Type:     model.WSMessageTypeError,
		PromptID: promptID,
		Error:    model.WSError{Code: code, Message: message},
	})
}

// HandleConnection runs the read/write loops for one subscriber until the
// connection drops
func (h *Hub) HandleConnection(c *websocket.Conn, promptID string) {
	client := &Client{
		PromptID: promptID,
		Conn:     c,
		Send:     make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case payload, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}

			case <-ticker.C:
				// Keep-alive; generation workflows can run for minutes
				// with no events in between.
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] WebSocket error on prompt %s: %v", promptID, err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Send <- pong
		}
	}
}
