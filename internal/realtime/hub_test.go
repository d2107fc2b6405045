package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestClient(code, userID string) *Client {
	return &Client{
		ID:      uuid.New().String(),
		Binding: SessionBinding{MeetingCode: code, UserID: userID},
		send:    make(chan WSMessage, 8),
	}
}

func recv(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a message, got none")
		return WSMessage{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %q", msg.Event)
	default:
	}
}

func TestRelayStaysInRoomAndSkipsSender(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("abc-1234-xyz", "ua")
	b := newTestClient("abc-1234-xyz", "ub")
	other := newTestClient("def-5678-uvw", "uc")
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	hub.RelayFrom("abc-1234-xyz", a.ID, "ua", EventNegotiationOffer, json.RawMessage(`{"sdp":"x"}`))

	msg := recv(t, b)
	if msg.Event != EventNegotiationOffer {
		t.Fatalf("event = %q", msg.Event)
	}
	if msg.From != "ua" {
		t.Fatalf("from = %q, want ua", msg.From)
	}
	assertEmpty(t, a)
	assertEmpty(t, other)
}

func TestBroadcastToRoomReachesEveryone(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("abc-1234-xyz", "ua")
	b := newTestClient("abc-1234-xyz", "ub")
	hub.Register(a)
	hub.Register(b)

	hub.BroadcastToRoom("abc-1234-xyz", EventMemberJoined, map[string]string{"user_id": "uc"})

	for _, c := range []*Client{a, b} {
		if msg := recv(t, c); msg.Event != EventMemberJoined {
			t.Fatalf("event = %q", msg.Event)
		}
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("abc-1234-xyz", "ua")
	b := newTestClient("abc-1234-xyz", "ub")
	hub.Register(a)
	hub.Register(b)
	hub.Unregister(b)

	if n := hub.RoomCount("abc-1234-xyz"); n != 1 {
		t.Fatalf("RoomCount = %d, want 1", n)
	}
	hub.BroadcastToRoom("abc-1234-xyz", EventMemberLeft, nil)
	recv(t, a)
	assertEmpty(t, b)
}

func TestSendToClient(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient("abc-1234-xyz", "ua")
	b := newTestClient("abc-1234-xyz", "ub")
	hub.Register(a)
	hub.Register(b)

	hub.SendToClient("abc-1234-xyz", a.ID, EventNegotiationAnswer, json.RawMessage(`{}`))
	recv(t, a)
	assertEmpty(t, b)
}

// fakeBridge implements both bridge interfaces and records what flows
// through it.
type fakeBridge struct {
	mu        sync.Mutex
	published []string
	handlers  map[string]func(origin, exceptID, from, event string, payload []byte)
	cancelled map[string]bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		handlers:  make(map[string]func(origin, exceptID, from, event string, payload []byte)),
		cancelled: make(map[string]bool),
	}
}

func (f *fakeBridge) PublishRoomEvent(code, origin, exceptID, from, event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, code+"/"+event)
	return nil
}

func (f *fakeBridge) SubscribeRoom(code string, handler func(origin, exceptID, from, event string, payload []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[code] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled[code] = true
	}, nil
}

func TestRedisBridgeSkipsOwnOrigin(t *testing.T) {
	bridge := newFakeBridge()
	hub := NewHub(zap.NewNop(), bridge, bridge)
	a := newTestClient("abc-1234-xyz", "ua")
	hub.Register(a)

	handler := bridge.handlers["abc-1234-xyz"]
	if handler == nil {
		t.Fatal("no subscription started for the room")
	}

	// self-originated message must not be delivered twice
	handler(hub.instanceID, "", "ub", EventICECandidate, []byte(`{}`))
	assertEmpty(t, a)

	// a foreign instance's message is delivered
	handler("other-instance", "", "ub", EventICECandidate, []byte(`{}`))
	if msg := recv(t, a); msg.Event != EventICECandidate || msg.From != "ub" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestRedisBridgeLifecycle(t *testing.T) {
	bridge := newFakeBridge()
	hub := NewHub(zap.NewNop(), bridge, bridge)
	a := newTestClient("abc-1234-xyz", "ua")
	hub.Register(a)

	hub.RelayFrom("abc-1234-xyz", a.ID, "ua", EventNegotiationOffer, json.RawMessage(`{}`))
	bridge.mu.Lock()
	n := len(bridge.published)
	bridge.mu.Unlock()
	if n != 1 {
		t.Fatalf("published %d events, want 1", n)
	}

	hub.Unregister(a)
	bridge.mu.Lock()
	cancelled := bridge.cancelled["abc-1234-xyz"]
	bridge.mu.Unlock()
	if !cancelled {
		t.Fatal("subscription not cancelled when room emptied")
	}
}
