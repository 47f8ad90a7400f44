package router_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/internal/ai"
	"github.com/manhdua1/chat-box-v2/internal/auth"
	"github.com/manhdua1/chat-box-v2/internal/broadcast"
	"github.com/manhdua1/chat-box-v2/internal/call"
	"github.com/manhdua1/chat-box-v2/internal/pubsub"
	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/router"
	"github.com/manhdua1/chat-box-v2/internal/store"
	"github.com/manhdua1/chat-box-v2/internal/upload"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, message)
}

// byType returns the decoded frames with the given type tag.
func (f *fakeSender) byType(t *testing.T, frameType string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, raw := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if m["type"] == frameType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) waitFor(t *testing.T, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.byType(t, frameType); len(got) > 0 {
			return got[len(got)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s frame arrived", frameType)
	return nil
}

type fakeAuth struct{}

func (fakeAuth) Register(username, password, _ string) (string, error) {
	return "u-" + username, nil
}

func (fakeAuth) Login(username, password string) (auth.Identity, string, error) {
	if password != "pw" {
		return auth.Identity{}, "", auth.ErrInvalidCredentials
	}
	return auth.Identity{UserID: "u-" + username, Username: username}, "token-" + username, nil
}

func (fakeAuth) ValidateToken(token string) (auth.Identity, error) {
	var username string
	if _, err := fmt.Sscanf(token, "token-%s", &username); err != nil || username == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: "u-" + username, Username: username}, nil
}

type fakeAIClient struct{}

func (fakeAIClient) Complete(_ context.Context, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

type fixture struct {
	reg *registry.Registry
	r   *router.Router
	st  store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st, err := store.Open(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	reg := registry.New(logger)
	dir := rooms.NewDirectory(st, logger)
	bcast := broadcast.New(reg, dir, logger)
	broker := pubsub.NewMemoryBroker(logger)

	calls := call.NewManager(bcast.SendToUser, pubsub.OriginPublisher{Broker: broker}, logger)
	uploads := upload.NewManager(upload.Config{
		Dir:           filepath.Join(t.TempDir(), "uploads"),
		TempDir:       filepath.Join(t.TempDir(), "tmp"),
		MaxFileSize:   1 << 20,
		PublicBaseURL: "http://localhost:8080",
	}, bcast, st, logger)

	pool := ai.NewPool(fakeAIClient{}, bcast.SendToConnection, 1, 8, logger)
	pool.Start(ctx)

	r := router.New(router.Deps{
		Registry:    reg,
		Broadcaster: bcast,
		Directory:   dir,
		Calls:       calls,
		Uploads:     uploads,
		Auth:        fakeAuth{},
		Store:       st,
		AI:          pool,
		Broker:      broker,
		Logger:      logger,
	})
	if err := r.BindBroker(ctx); err != nil {
		t.Fatalf("BindBroker: %v", err)
	}
	return &fixture{reg: reg, r: r, st: st}
}

func (fx *fixture) connect(t *testing.T) (uuid.UUID, *fakeSender) {
	t.Helper()
	id := uuid.New()
	sender := &fakeSender{}
	if _, err := fx.reg.Register(id, "1.2.3.4", sender); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return id, sender
}

func (fx *fixture) frame(connID uuid.UUID, payload string) {
	fx.r.HandleMessage(context.Background(), connID, []byte(payload))
}

func (fx *fixture) login(t *testing.T, connID uuid.UUID, sender *fakeSender, username string) {
	t.Helper()
	fx.frame(connID, fmt.Sprintf(`{"type":"login","username":%q,"password":"pw"}`, username))
	resp := sender.byType(t, "login_response")
	if len(resp) == 0 || resp[len(resp)-1]["success"] != true {
		t.Fatalf("login failed: %v", resp)
	}
}

func TestUnauthenticatedFramesRejected(t *testing.T) {
	fx := newFixture(t)
	connID, sender := fx.connect(t)

	fx.frame(connID, `{"type":"chat","content":"hi"}`)
	errs := sender.byType(t, "error")
	if len(errs) != 1 || errs[0]["message"] != "Not authenticated" {
		t.Fatalf("error frames = %v", errs)
	}

	// ping is allowed before auth
	fx.frame(connID, `{"type":"ping"}`)
	if len(sender.byType(t, "pong")) != 1 {
		t.Error("ping rejected before auth")
	}
}

func TestUnknownKind(t *testing.T) {
	fx := newFixture(t)
	connID, sender := fx.connect(t)

	fx.frame(connID, `{"type":"poke"}`)
	errs := sender.byType(t, "error")
	if len(errs) != 1 || errs[0]["message"] != "Unknown message type" {
		t.Fatalf("error frames = %v", errs)
	}
}

func TestTokenAuthFlow(t *testing.T) {
	fx := newFixture(t)
	connID, sender := fx.connect(t)

	fx.frame(connID, `{"type":"auth","token":"garbage"}`)
	resp := sender.byType(t, "auth_response")
	if len(resp) != 1 || resp[0]["success"] != false {
		t.Fatalf("bad-token response = %v", resp)
	}

	fx.frame(connID, `{"type":"auth","token":"token-alice"}`)
	resp = sender.byType(t, "auth_response")
	last := resp[len(resp)-1]
	if last["success"] != true || last["userId"] != "u-alice" {
		t.Fatalf("auth response = %v", last)
	}

	conn, _ := fx.reg.Get(connID)
	if !conn.Authenticated || conn.CurrentRoom != rooms.GlobalRoomID {
		t.Errorf("conn after auth = %+v", conn)
	}
}

func TestLoginPushesGlobalHistoryAndUserJoined(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.frame(aliceID, `{"type":"chat","content":"welcome"}`)

	bobID, bob := fx.connect(t)
	fx.login(t, bobID, bob, "bob")

	hist := bob.byType(t, "history")
	if len(hist) != 1 || hist[0]["roomId"] != rooms.GlobalRoomID {
		t.Fatalf("history frames = %v", hist)
	}
	messages, ok := hist[0]["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("history messages = %v", hist[0]["messages"])
	}

	joined := alice.byType(t, "user_joined")
	if len(joined) != 1 || joined[0]["userId"] != "u-bob" {
		t.Fatalf("user_joined = %v", joined)
	}
	if len(bob.byType(t, "user_joined")) != 0 {
		t.Error("newcomer received their own join announcement")
	}
}

func TestGlobalChatReachesEveryoneAndPersists(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.login(t, bobID, bob, "bob")

	fx.frame(aliceID, `{"type":"chat","content":"hello room"}`)

	for _, sender := range []*fakeSender{alice, bob} {
		chats := sender.byType(t, "chat")
		if len(chats) != 1 || chats[0]["content"] != "hello room" {
			t.Fatalf("chat frames = %v", chats)
		}
	}

	records, err := fx.st.MessagesByRoom(rooms.GlobalRoomID, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("persisted = %v, %v", records, err)
	}
}

func TestDirectMessagePerspectives(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.login(t, bobID, bob, "bob")

	fx.frame(aliceID, `{"type":"chat","content":"psst","roomId":"dm_u-bob"}`)

	echo := alice.byType(t, "chat")
	if len(echo) != 1 || echo[0]["roomId"] != "dm_u-bob" {
		t.Fatalf("sender echo = %v", echo)
	}
	received := bob.byType(t, "chat")
	if len(received) != 1 || received[0]["roomId"] != "dm_u-alice" {
		t.Fatalf("receiver copy = %v", received)
	}

	// Persisted once under the canonical pair room.
	canonical := rooms.CanonicalDMID("u-alice", "u-bob")
	records, err := fx.st.MessagesByRoom(canonical, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("persisted = %v, %v", records, err)
	}
}

func TestJoinRoomReplaysHistory(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")

	fx.frame(aliceID, `{"type":"join_room","roomId":"lobby"}`)
	fx.frame(aliceID, `{"type":"chat","content":"first","roomId":"lobby"}`)

	bobID, bob := fx.connect(t)
	fx.login(t, bobID, bob, "bob")
	fx.frame(bobID, `{"type":"join_room","roomId":"lobby"}`)

	joined := bob.byType(t, "room_joined")
	if len(joined) != 1 {
		t.Fatalf("room_joined frames = %v", joined)
	}
	history, ok := joined[0]["history"].([]any)
	if !ok || len(history) != 1 {
		t.Fatalf("history = %v", joined[0]["history"])
	}

	// Alice is in the room view, so she sees Bob arrive.
	if len(alice.byType(t, "user_joined_room")) != 1 {
		t.Error("existing member not told about the join")
	}
}

func TestLeaveRoomResetsView(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.frame(aliceID, `{"type":"join_room","roomId":"lobby"}`)

	fx.frame(aliceID, `{"type":"leave_room","roomId":"lobby"}`)
	if len(alice.byType(t, "room_left")) != 1 {
		t.Fatal("no room_left confirmation")
	}
	conn, _ := fx.reg.Get(aliceID)
	if conn.CurrentRoom != rooms.GlobalRoomID {
		t.Errorf("current room = %s, want global", conn.CurrentRoom)
	}

	fx.frame(aliceID, `{"type":"leave_room","roomId":"global"}`)
	errs := alice.byType(t, "error")
	if len(errs) == 0 {
		t.Error("leaving the global room should fail")
	}
}

func TestCallSignalingThroughDispatch(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.login(t, bobID, bob, "bob")

	fx.frame(aliceID, `{"type":"call_init","targetId":"u-bob","callType":"video"}`)

	initResp := alice.byType(t, "call_init_response")
	if len(initResp) != 1 || initResp[0]["success"] != true {
		t.Fatalf("call_init_response = %v", initResp)
	}
	callID := initResp[0]["callId"].(string)

	incoming := bob.byType(t, "call_incoming")
	if len(incoming) != 1 || incoming[0]["callerId"] != "u-alice" {
		t.Fatalf("call_incoming = %v", incoming)
	}

	fx.frame(bobID, fmt.Sprintf(`{"type":"call_accept","callId":%q,"callerId":"u-alice"}`, callID))
	if len(alice.byType(t, "call_accepted")) != 1 {
		t.Fatal("initiator not told about acceptance")
	}

	fx.frame(bobID, fmt.Sprintf(`{"type":"webrtc_answer","callId":%q,"targetId":"u-alice","sdp":"answer"}`, callID))
	if len(alice.byType(t, "webrtc_answer")) != 1 {
		t.Fatal("answer not relayed")
	}

	fx.frame(aliceID, fmt.Sprintf(`{"type":"call_end","callId":%q,"targetId":"u-bob"}`, callID))
	ended := bob.byType(t, "call_ended")
	if len(ended) != 1 {
		t.Fatal("peer not told about call end")
	}
}

func TestUploadThroughDispatch(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.login(t, bobID, bob, "bob")
	fx.frame(aliceID, `{"type":"join_room","roomId":"lobby"}`)
	fx.frame(bobID, `{"type":"join_room","roomId":"lobby"}`)

	fx.frame(aliceID, `{"type":"upload_init","fileName":"pic.png","fileSize":6,"mimeType":"image/png","chunkSize":3,"totalChunks":2,"roomId":"lobby"}`)
	ready := alice.byType(t, "upload_ready")
	if len(ready) != 1 {
		t.Fatalf("upload_ready = %v", ready)
	}
	uploadID := ready[0]["uploadId"].(string)

	chunk := func(index int, data string) string {
		return fmt.Sprintf(`{"type":"upload_chunk","uploadId":%q,"chunkIndex":%d,"chunkData":%q}`,
			uploadID, index, base64.StdEncoding.EncodeToString([]byte(data)))
	}
	fx.frame(aliceID, chunk(1, "def"))
	fx.frame(aliceID, chunk(0, "abc"))
	progress := alice.byType(t, "upload_progress")
	if len(progress) != 2 || progress[1]["progress"] != float64(100) {
		t.Fatalf("upload_progress = %v", progress)
	}

	fx.frame(aliceID, fmt.Sprintf(`{"type":"upload_finalize","uploadId":%q}`, uploadID))
	complete := alice.byType(t, "upload_complete")
	if len(complete) != 1 {
		t.Fatalf("upload_complete = %v", complete)
	}

	// Both room members see the attachment chat message.
	if len(bob.byType(t, "chat")) != 1 {
		t.Error("room did not receive the attachment message")
	}
}

func TestAIRequestRoundTrip(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")

	fx.frame(aliceID, `{"type":"ai_request","message":"hello"}`)
	resp := alice.waitFor(t, "ai_response")
	if resp["response"] != "echo: hello" {
		t.Errorf("ai_response = %v", resp)
	}
}

func TestCloseOfLastConnectionTearsDown(t *testing.T) {
	fx := newFixture(t)
	aliceID, alice := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, aliceID, alice, "alice")
	fx.login(t, bobID, bob, "bob")

	fx.frame(aliceID, `{"type":"call_init","targetId":"u-bob","callType":"audio"}`)
	initResp := alice.byType(t, "call_init_response")
	callID := initResp[0]["callId"].(string)
	fx.frame(bobID, fmt.Sprintf(`{"type":"call_accept","callId":%q,"callerId":"u-alice"}`, callID))

	fx.r.HandleClose(aliceID, nil)

	offline := bob.byType(t, "presence_update")
	var sawOffline bool
	for _, p := range offline {
		if p["userId"] == "u-alice" && p["status"] == "offline" {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Error("no offline presence update")
	}
	if len(bob.byType(t, "call_ended")) != 1 {
		t.Error("pending call not ended on disconnect")
	}
	if _, ok := fx.reg.Get(aliceID); ok {
		t.Error("connection still registered after close")
	}
}

func TestSecondDeviceKeepsUserOnline(t *testing.T) {
	fx := newFixture(t)
	dev1ID, dev1 := fx.connect(t)
	dev2ID, dev2 := fx.connect(t)
	bobID, bob := fx.connect(t)
	fx.login(t, dev1ID, dev1, "alice")
	fx.login(t, dev2ID, dev2, "alice")
	fx.login(t, bobID, bob, "bob")

	fx.r.HandleClose(dev1ID, nil)

	for _, p := range bob.byType(t, "presence_update") {
		if p["userId"] == "u-alice" && p["status"] == "offline" {
			t.Fatal("user reported offline while another device is connected")
		}
	}
}
