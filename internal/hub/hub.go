package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"foodbridge/internal/feed"
	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

type Client struct {
	ID    string
	Send  chan []byte
	Scope feed.Scope
	// ReportID narrows the stream to one report when set.
	ReportID string
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	ReportID string `json:"report_id"`
}

// Envelope is what clients receive for each change event.
type Envelope struct {
	Type       string            `json:"type"`
	EventID    string            `json:"event_id"`
	ReportID   string            `json:"report_id"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status"`
	Report     models.FoodReport `json:"report"`
	CreatedAt  time.Time         `json:"created_at"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Focus(client *Client, reportID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.ReportID = reportID
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends the event to every client whose scope allows it. Slow
// clients lose messages instead of blocking the feed.
func (h *Hub) Broadcast(event store.ChangeEvent) {
	payload, err := json.Marshal(Envelope{
		Type:       event.Type,
		EventID:    event.EventID,
		ReportID:   event.ReportID,
		FromStatus: event.FromStatus,
		ToStatus:   event.ToStatus,
		Report:     event.Report,
		CreatedAt:  event.CreatedAt,
	})
	if err != nil {
		log.Printf("hub marshal event_id=%s error=%v", event.EventID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.ReportID != "" && client.ReportID != event.ReportID {
			continue
		}
		if !client.Scope.Allows(event) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
