// Package realtime is the WebSocket signaling layer: one room per meeting,
// relay-only forwarding between its members. An optional Redis bridge fans
// events out across instances.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// RoomPublisher publishes room events for cross-instance broadcast.
type RoomPublisher interface {
	PublishRoomEvent(meetingCode, origin, exceptID, from, event string, payload []byte) error
}

// RoomSubscriber subscribes to a room's channel and invokes handler for
// incoming events.
type RoomSubscriber interface {
	SubscribeRoom(meetingCode string, handler func(origin, exceptID, from, event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains meeting code -> set of connections and relays messages
// within a room. Rooms never leak across meeting codes.
type Hub struct {
	// meeting code -> map[clientID]*Client
	rooms      map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per room
	mu         sync.RWMutex
	logger     *zap.Logger
	pub        RoomPublisher
	sub        RoomSubscriber
	instanceID string
}

// NewHub creates a new signaling hub. pub and sub may be nil for
// single-instance deployments.
func NewHub(logger *zap.Logger, pub RoomPublisher, sub RoomSubscriber) *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*Client),
		subs:       make(map[string]func()),
		logger:     logger,
		pub:        pub,
		sub:        sub,
		instanceID: uuid.New().String(),
	}
}

// Register adds a client to its meeting's room. The first client in a room
// starts the Redis subscription for it.
func (h *Hub) Register(c *Client) {
	code := c.Binding.MeetingCode
	h.mu.Lock()
	if h.rooms[code] == nil {
		h.rooms[code] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeRoom(code, func(origin, exceptID, from, event string, payload []byte) {
				if origin == h.instanceID {
					// this instance already delivered locally
					return
				}
				h.broadcastLocal(code, exceptID, from, event, payload)
			})
			if err == nil {
				h.subs[code] = cancel
			} else {
				h.logger.Warn("room subscribe failed", zap.String("meeting_code", code), zap.Error(err))
			}
		}
	}
	h.rooms[code][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("meeting_code", code),
		zap.String("user_id", c.Binding.UserID))
}

// Unregister removes a client from its room. The Redis subscription is
// cancelled when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	code := c.Binding.MeetingCode
	h.mu.Lock()
	if m, ok := h.rooms[code]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, code)
			if cancel, ok := h.subs[code]; ok {
				cancel()
				delete(h.subs, code)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left room",
		zap.String("client_id", c.ID),
		zap.String("meeting_code", code))
}

// BroadcastToRoom sends an event to every client in the room, here and on
// other instances.
func (h *Hub) BroadcastToRoom(meetingCode, event string, payload interface{}) {
	h.relay(meetingCode, "", "", event, payload)
}

// BroadcastToRoomExcept sends an event to every client in the room except
// the sender. Relay semantics: the sender never hears its own message back.
func (h *Hub) BroadcastToRoomExcept(meetingCode, exceptID, event string, payload interface{}) {
	h.relay(meetingCode, exceptID, "", event, payload)
}

// RelayFrom forwards a client message to the rest of the room, stamped with
// the originating user id.
func (h *Hub) RelayFrom(meetingCode, exceptID, fromUserID, event string, payload interface{}) {
	h.relay(meetingCode, exceptID, fromUserID, event, payload)
}

func (h *Hub) relay(meetingCode, exceptID, from, event string, payload interface{}) {
	data := marshalPayload(payload)
	h.broadcastLocal(meetingCode, exceptID, from, event, data)
	if h.pub != nil {
		_ = h.pub.PublishRoomEvent(meetingCode, h.instanceID, exceptID, from, event, data)
	}
}

func (h *Hub) broadcastLocal(meetingCode, exceptID, from, event string, data []byte) {
	msg := WSMessage{Event: event, From: from, Data: data}

	h.mu.RLock()
	clients := h.rooms[meetingCode]
	h.mu.RUnlock()

	for id, c := range clients {
		if id == exceptID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// SendToClient sends an event to a single client in a room.
func (h *Hub) SendToClient(meetingCode, clientID, event string, payload interface{}) {
	msg := WSMessage{Event: event, Data: marshalPayload(payload)}
	h.mu.RLock()
	c, ok := h.rooms[meetingCode][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// RoomCount returns the number of connected clients in a room on this
// instance.
func (h *Hub) RoomCount(meetingCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[meetingCode])
}

func marshalPayload(payload interface{}) []byte {
	switch v := payload.(type) {
	case []byte:
		return v
	case json.RawMessage:
		return v
	default:
		data, _ := json.Marshal(payload)
		return data
	}
}
