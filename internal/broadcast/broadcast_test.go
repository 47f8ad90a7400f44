package broadcast_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/internal/broadcast"
	"github.com/manhdua1/chat-box-v2/internal/registry"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeSender) Send(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMembers map[string][]string

func (f fakeMembers) Members(roomID string) []string { return f[roomID] }

type fixture struct {
	reg *registry.Registry
	b   *broadcast.Broadcaster
}

func newFixture(members fakeMembers) *fixture {
	logger := newTestLogger()
	reg := registry.New(logger)
	return &fixture{reg: reg, b: broadcast.New(reg, members, logger)}
}

func (fx *fixture) addConn(userID, username, currentRoom string) (uuid.UUID, *fakeSender) {
	id := uuid.New()
	sender := &fakeSender{}
	fx.reg.Register(id, "1.2.3.4", sender)
	if userID != "" {
		fx.reg.MarkAuthenticated(id, userID, username)
	}
	if currentRoom != "" {
		fx.reg.SetCurrentRoom(id, currentRoom)
	}
	return id, sender
}

func TestSendToConnection(t *testing.T) {
	fx := newFixture(fakeMembers{})
	id, sender := fx.addConn("u1", "alice", "")

	if !fx.b.SendToConnection(id, []byte("hi")) {
		t.Fatal("SendToConnection reported miss for live connection")
	}
	if sender.count() != 1 {
		t.Errorf("sent %d frames, want 1", sender.count())
	}
	if fx.b.SendToConnection(uuid.New(), []byte("hi")) {
		t.Error("SendToConnection should miss for unknown connection")
	}
}

func TestSendToUserMultiDevice(t *testing.T) {
	fx := newFixture(fakeMembers{})
	_, dev1 := fx.addConn("u1", "alice", "")
	_, dev2 := fx.addConn("u1", "alice", "")
	_, other := fx.addConn("u2", "bob", "")

	n := fx.b.SendToUser("u1", []byte("ping"))
	if n != 2 {
		t.Fatalf("fan-out = %d, want 2", n)
	}
	if dev1.count() != 1 || dev2.count() != 1 {
		t.Error("both devices should receive the frame")
	}
	if other.count() != 0 {
		t.Error("unrelated user received the frame")
	}
	if n := fx.b.SendToUser("offline", []byte("ping")); n != 0 {
		t.Errorf("offline fan-out = %d, want 0", n)
	}
}

func TestBroadcastGlobalExcludesAllSenderConnections(t *testing.T) {
	fx := newFixture(fakeMembers{})
	_, senderDev1 := fx.addConn("u1", "alice", "")
	_, senderDev2 := fx.addConn("u1", "alice", "")
	_, receiver := fx.addConn("u2", "bob", "")
	_, unauth := fx.addConn("", "", "")

	n := fx.b.SendToRoom("global", []byte("hello"), "u1")
	if n != 1 {
		t.Fatalf("recipients = %d, want 1", n)
	}
	if senderDev1.count() != 0 || senderDev2.count() != 0 {
		t.Error("excluded user's connections must not receive the broadcast")
	}
	if receiver.count() != 1 {
		t.Error("authenticated receiver missed the broadcast")
	}
	if unauth.count() != 0 {
		t.Error("unauthenticated connection received a global broadcast")
	}
}

func TestSendToRoomUnionOfMembersAndViewers(t *testing.T) {
	fx := newFixture(fakeMembers{"room-1": {"member"}})
	_, member := fx.addConn("member", "m", "")
	_, viewer := fx.addConn("viewer", "v", "room-1")
	_, outsider := fx.addConn("outsider", "o", "room-2")

	n := fx.b.SendToRoom("room-1", []byte("msg"), "")
	if n != 2 {
		t.Fatalf("recipients = %d, want 2", n)
	}
	if member.count() != 1 {
		t.Error("durable member missed room traffic")
	}
	if viewer.count() != 1 {
		t.Error("currently-viewing connection missed room traffic")
	}
	if outsider.count() != 0 {
		t.Error("outsider received room traffic")
	}
}

func TestSendToRoomExcludesSender(t *testing.T) {
	fx := newFixture(fakeMembers{"room-1": {"u1", "u2"}})
	_, sender := fx.addConn("u1", "alice", "room-1")
	_, receiver := fx.addConn("u2", "bob", "")

	fx.b.SendToRoom("room-1", []byte("msg"), "u1")
	if sender.count() != 0 {
		t.Error("sender must be excluded")
	}
	if receiver.count() != 1 {
		t.Error("other member must receive")
	}
}

func TestSendToRoomWithUnknownMembershipFallsBackToViewers(t *testing.T) {
	// Storage outage: Members returns nil; the viewing hint still delivers.
	fx := newFixture(fakeMembers{})
	_, viewer := fx.addConn("viewer", "v", "room-9")

	n := fx.b.SendToRoom("room-9", []byte("msg"), "")
	if n != 1 || viewer.count() != 1 {
		t.Errorf("viewer fallback failed: n=%d count=%d", n, viewer.count())
	}
}
