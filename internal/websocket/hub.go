package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RelayChannel carries deltas between instances sharing a Redis.
const RelayChannel = "app_builder_events"

const relayBuffer = 1024

type relayEnvelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

type Hub struct {
	// Session groups: session id -> every socket joined to it
	groups map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex

	// Redis connection for cross-instance relay, nil when running alone
	rdb    *redis.Client
	origin string
	relay  chan relayEnvelope

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		groups:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		rdb:        rdb,
		origin:     uuid.NewString(),
		relay:      make(chan relayEnvelope, relayBuffer),
		logger:     log,
	}
}

// Run serves register/unregister requests until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
		go h.publishToRedis(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			group, ok := h.groups[client.SessionID]
			if !ok {
				group = make(map[*Client]struct{})
				h.groups[client.SessionID] = group
			}
			group[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{
				"connection_id": client.SessionID,
				"client_id":     client.ID,
			})

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for _, group := range h.groups {
				for client := range group {
					client.close()
				}
			}
			h.groups = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if group, ok := h.groups[client.SessionID]; ok {
		delete(group, client)
		if len(group) == 0 {
			delete(h.groups, client.SessionID)
		}
	}
	h.mu.Unlock()
	client.close()
	h.logger.Info("Hub", "Client unregistered", map[string]interface{}{
		"connection_id": client.SessionID,
		"client_id":     client.ID,
	})
}

// Register joins client to its session group. It returns false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

// ClientCount returns the number of sockets joined to a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionID])
}

func (h *Hub) PublishStepDelta(sessionID string, delta entity.StepDelta) {
	h.publish(sessionID, dto.WsMessage{Type: dto.WsTypeStepPatch, Data: delta})
}

func (h *Hub) PublishLogDelta(sessionID string, delta entity.LogDelta) {
	h.publish(sessionID, dto.WsMessage{Type: dto.WsTypeLogUpdate, Data: delta})
}

func (h *Hub) publish(sessionID string, msg dto.WsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode message", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliver(sessionID, data)

	if h.rdb != nil {
		select {
		case h.relay <- relayEnvelope{Origin: h.origin, SessionID: sessionID, Message: data}:
		default:
			// Remote subscribers recover through a snapshot when they see the gap.
			h.logger.Warn("Hub", "Relay buffer full, dropping message", map[string]interface{}{"connection_id": sessionID})
		}
	}
}

// deliver fans data out to the local sockets of a session. Sockets whose
// buffer is full are dropped; they resync from a snapshot on reconnect.
func (h *Hub) deliver(sessionID string, data []byte) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.groups[sessionID] {
		if !client.trySend(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{
			"connection_id": sessionID,
			"client_id":     client.ID,
		})
		go h.Unregister(client)
	}
}

func (h *Hub) publishToRedis(ctx context.Context) {
	for {
		select {
		case env := <-h.relay:
			payload, _ := json.Marshal(env)
			if err := h.rdb.Publish(ctx, RelayChannel, payload).Err(); err != nil {
				h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.deliver(env.SessionID, env.Message)
		}
	}
}
