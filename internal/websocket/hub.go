package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"topup/internal/models"
)

// AdminFeed is the topic admin dashboards subscribe to.
const AdminFeed = "admin:events"

type BalanceUpdate struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type TopupUpdate struct {
	TopupID  string `json:"topup_id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans messages out to websocket clients grouped by topic. A topic is
// either a user id or AdminFeed.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) Unregister(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		return
	}
	delete(h.clients[topic], client)
	if len(h.clients[topic]) == 0 {
		delete(h.clients, topic)
	}
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	h.publish(userID, envelope{Type: "balance", Data: update})
}

func (h *Hub) BroadcastTopup(userID string, update TopupUpdate) {
	h.publish(userID, envelope{Type: "topup", Data: update})
	h.publish(AdminFeed, envelope{Type: "topup", Data: update})
}

func (h *Hub) BroadcastEvent(event models.SystemEvent) {
	h.publish(AdminFeed, envelope{Type: "event", Data: event})
}

// Relay forwards events published on Redis to the admin feed until ctx is
// done or the channel closes.
func (h *Hub) Relay(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				continue
			}
			h.publish(AdminFeed, envelope{Type: "event", Data: json.RawMessage(msg.Payload)})
		}
	}
}

func (h *Hub) publish(topic string, message envelope) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
