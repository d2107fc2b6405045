package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/meetings"
	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/internal/participants"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. From is set by the server on
// relayed messages so receivers know the originating user.
type WSMessage struct {
	Event string          `json:"event"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Signaling events relayed verbatim between room members.
const (
	EventNegotiationOffer   = "negotiation-offer"
	EventNegotiationAnswer  = "negotiation-answer"
	EventICECandidate       = "ice-candidate"
	EventMediaStateChanged  = "media-state-changed"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"

	// Membership events emitted by the server.
	EventMemberJoined = "member-joined"
	EventMemberLeft   = "member-left"
)

// Presence is the lifecycle hook the signaling layer drives. Satisfied by
// *meetings.Service.
type Presence interface {
	Connected(ctx context.Context, code string, tenantID uuid.UUID, userID, displayName, role string) error
	Disconnected(ctx context.Context, code string, tenantID uuid.UUID, userID string) error
	ApplyMediaState(ctx context.Context, code, userID string, patch participants.MediaStatePatch) (models.MediaState, error)
	SetScreenSharing(ctx context.Context, code, userID string, on bool) error
}

// Client represents a single WebSocket connection in a meeting room.
type Client struct {
	ID       string
	Binding  SessionBinding
	JoinedAt time.Time
	hub      *Hub
	presence Presence
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. Admission
// runs before the upgrade so denied callers get a plain HTTP error.
func ServeWs(hub *Hub, admitter *Admitter, presence Presence, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := AdmitParams{
			Token:       c.Query("token"),
			MeetingCode: c.Query("meeting_id"),
			UserID:      c.Query("user_id"),
			DisplayName: c.Query("display_name"),
			Role:        c.Query("role"),
		}
		binding, reason, err := admitter.Admit(c.Request.Context(), params)
		if err != nil {
			logger.Error("admission check failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "admission check failed"})
			return
		}
		if reason != "" {
			status := http.StatusForbidden
			if reason == meetings.ReasonAuthFailed {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": reason})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			Binding:  binding,
			JoinedAt: time.Now(),
			hub:      hub,
			presence: presence,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
		}
		hub.Register(client)

		ctx := context.Background()
		if err := presence.Connected(ctx, binding.MeetingCode, binding.TenantID, binding.UserID, binding.DisplayName, binding.Role); err != nil {
			logger.Error("record connect failed",
				zap.String("meeting_code", binding.MeetingCode),
				zap.String("user_id", binding.UserID),
				zap.Error(err))
		}
		hub.BroadcastToRoomExcept(binding.MeetingCode, client.ID, EventMemberJoined, map[string]string{
			"user_id":      binding.UserID,
			"display_name": binding.DisplayName,
			"role":         binding.Role,
		})

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		b := c.Binding
		c.hub.BroadcastToRoomExcept(b.MeetingCode, c.ID, EventMemberLeft, map[string]string{
			"user_id": b.UserID,
		})
		if err := c.presence.Disconnected(context.Background(), b.MeetingCode, b.TenantID, b.UserID); err != nil {
			c.logger.Error("record disconnect failed",
				zap.String("meeting_code", b.MeetingCode),
				zap.String("user_id", b.UserID),
				zap.Error(err))
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if !c.handleMessage(msg) {
			return
		}
	}
}

// handleMessage dispatches one inbound message. It returns false when the
// client asked to leave and the read loop should end.
func (c *Client) handleMessage(msg WSMessage) bool {
	switch msg.Event {
	case EventNegotiationOffer, EventNegotiationAnswer, EventICECandidate:
		c.relay(msg)
	case EventScreenShareStarted:
		c.persistScreenShare(true)
		c.relay(msg)
	case EventScreenShareStopped:
		c.persistScreenShare(false)
		c.relay(msg)
	case EventMediaStateChanged:
		c.persistMediaState(msg.Data)
		c.relay(msg)
	case "leave":
		return false
	default:
		// ignore
	}
	return true
}

// relay forwards a message to every other member of the sender's room,
// stamped with the sender's user id. The sender never receives its own
// message back, and nothing crosses rooms.
func (c *Client) relay(msg WSMessage) {
	c.hub.RelayFrom(c.Binding.MeetingCode, c.ID, c.Binding.UserID, msg.Event, json.RawMessage(msg.Data))
}

// persistMediaState records the participant's media toggles. The payload is a
// patch: fields it omits keep their stored value, so a toggle event without
// screen_sharing never clears an active share. Token-mode connections may
// reference meetings outside the registry; their state is relayed but not
// persisted.
func (c *Client) persistMediaState(data json.RawMessage) {
	if c.Binding.TokenMode {
		return
	}
	var patch participants.MediaStatePatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return
	}
	if _, err := c.presence.ApplyMediaState(context.Background(), c.Binding.MeetingCode, c.Binding.UserID, patch); err != nil {
		c.logger.Error("persist media state failed",
			zap.String("meeting_code", c.Binding.MeetingCode),
			zap.String("user_id", c.Binding.UserID),
			zap.Error(err))
	}
}

// persistScreenShare mirrors screen-share start/stop into the participant
// record, credential-mode connections only.
func (c *Client) persistScreenShare(on bool) {
	if c.Binding.TokenMode {
		return
	}
	if err := c.presence.SetScreenSharing(context.Background(), c.Binding.MeetingCode, c.Binding.UserID, on); err != nil {
		c.logger.Error("persist screen share failed",
			zap.String("meeting_code", c.Binding.MeetingCode),
			zap.String("user_id", c.Binding.UserID),
			zap.Error(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
