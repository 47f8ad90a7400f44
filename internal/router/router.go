// Package router dispatches inbound frames to the component that owns their
// kind: session handlers, the broadcast fabric, the call state machine, the
// upload pipeline or the AI pool. It also runs the cleanup sequence when a
// connection closes.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/manhdua1/chat-box-v2/internal/ai"
	"github.com/manhdua1/chat-box-v2/internal/auth"
	"github.com/manhdua1/chat-box-v2/internal/broadcast"
	"github.com/manhdua1/chat-box-v2/internal/call"
	"github.com/manhdua1/chat-box-v2/internal/pubsub"
	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/store"
	"github.com/manhdua1/chat-box-v2/internal/upload"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

// Deps carries every collaborator the router dispatches into.
type Deps struct {
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Directory   *rooms.Directory
	Calls       *call.Manager
	Uploads     *upload.Manager
	Auth        Authenticator
	Store       store.Store
	AI          *ai.Pool
	Broker      pubsub.Broker
	Logger      *slog.Logger

	// NodeID identifies this process on the pub/sub fabric so it can skip
	// its own published frames. Generated when empty.
	NodeID string
}

// Authenticator is the identity surface the session handlers need;
// satisfied by *auth.Manager and fakeable in tests.
type Authenticator interface {
	Register(username, password, email string) (string, error)
	Login(username, password string) (auth.Identity, string, error)
	ValidateToken(token string) (auth.Identity, error)
}

type Router struct {
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	dir         *rooms.Directory
	calls       *call.Manager
	uploads     *upload.Manager
	auth        Authenticator
	store       store.Store
	ai          *ai.Pool
	broker      pubsub.Broker

	nodeID string
	tracer trace.Tracer
	logger *slog.Logger
}

func New(deps Deps) *Router {
	nodeID := deps.NodeID
	if nodeID == "" {
		nodeID = "node-" + ksuid.New().String()
	}
	return &Router{
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		dir:         deps.Directory,
		calls:       deps.Calls,
		uploads:     deps.Uploads,
		auth:        deps.Auth,
		store:       deps.Store,
		ai:          deps.AI,
		broker:      deps.Broker,
		nodeID:      nodeID,
		tracer:      otel.Tracer("router"),
		logger:      deps.Logger.With(slog.String("component", "router")),
	}
}

// NodeID identifies this process on the pub/sub fabric.
func (r *Router) NodeID() string { return r.nodeID }

// HandleMessage is the per-frame entry point, invoked by the transport read
// pump in arrival order.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	kind := protocol.Kind(gjson.GetBytes(raw, "type").String())

	ctx, span := r.tracer.Start(ctx, "frame."+string(kind), trace.WithAttributes(
		attribute.String("frame.kind", string(kind)),
		attribute.String("conn.id", connID.String()),
	))
	defer span.End()

	conn, ok := r.registry.Get(connID)
	if !ok {
		r.logger.Warn("Frame from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	if !protocol.Known(kind) {
		r.sendError(connID, "Unknown message type")
		return
	}
	if kind.RequiresAuth() && !conn.Authenticated {
		r.sendError(connID, "Not authenticated")
		return
	}

	switch kind {
	case protocol.KindAuth:
		r.handleAuth(connID, raw)
	case protocol.KindRegister:
		r.handleRegister(connID, raw)
	case protocol.KindLogin:
		r.handleLogin(connID, raw)
	case protocol.KindPing:
		r.handlePing(connID)
	case protocol.KindChat:
		r.handleChat(conn, raw)
	case protocol.KindTyping:
		r.handleTyping(conn, raw)
	case protocol.KindJoinRoom:
		r.handleJoinRoom(conn, raw)
	case protocol.KindLeaveRoom:
		r.handleLeaveRoom(conn, raw)
	case protocol.KindGetOnlineUsers:
		r.handleGetOnlineUsers(connID)
	case protocol.KindPresenceUpdate:
		r.handlePresenceUpdate(conn, raw)
	case protocol.KindCallInit:
		r.handleCallInit(conn, raw)
	case protocol.KindCallAccept:
		r.handleCallAccept(conn, raw)
	case protocol.KindCallReject:
		r.handleCallReject(conn, raw)
	case protocol.KindCallEnd:
		r.handleCallEnd(conn, raw)
	case protocol.KindWebRTCOffer, protocol.KindWebRTCAnswer, protocol.KindWebRTCIce:
		r.handleSignalRelay(conn, kind, raw)
	case protocol.KindToggleMute, protocol.KindToggleVideo:
		r.handleMediaToggle(conn, kind, raw)
	case protocol.KindScreenShareStart, protocol.KindScreenShareStop:
		r.handleScreenShare(conn, kind == protocol.KindScreenShareStart, raw)
	case protocol.KindUploadInit:
		r.handleUploadInit(conn, raw)
	case protocol.KindUploadChunk:
		r.handleUploadChunk(conn, raw)
	case protocol.KindUploadFinalize:
		r.handleUploadFinalize(conn, raw)
	case protocol.KindUploadAbort:
		r.handleUploadAbort(conn, raw)
	case protocol.KindAIRequest:
		r.handleAIRequest(conn, raw)
	}
}

// HandleClose runs the teardown sequence for a closed connection. If it was
// the user's last connection, their in-flight uploads are aborted, any
// active call is ended and an offline presence update goes out.
func (r *Router) HandleClose(connID uuid.UUID, err error) {
	conn, ok := r.registry.Unregister(connID)
	if !ok {
		return
	}
	r.logger.Info("Connection closed",
		slog.String("connID", connID.String()),
		slog.String("userID", conn.UserID),
		slog.Any("reason", err),
	)
	if !conn.Authenticated {
		return
	}
	if len(r.registry.FindByUser(conn.UserID)) > 0 {
		// Another device is still online; no user-level teardown.
		return
	}

	r.uploads.AbortAllForUser(conn.UserID)
	r.calls.HandleDisconnect(conn.UserID)
	r.broadcaster.BroadcastAll(protocol.Encode(protocol.PresenceUpdate{
		Type:     protocol.TypePresenceUpdate,
		UserID:   conn.UserID,
		Username: conn.Username,
		Status:   "offline",
	}), conn.UserID)
}

// BindBroker subscribes to the cross-node topics and completes deliveries
// that originated on other nodes.
func (r *Router) BindBroker(ctx context.Context) error {
	if err := r.broker.Subscribe(ctx, "user:*", r.onRemoteUserFrame); err != nil {
		return err
	}
	return r.broker.Subscribe(ctx, "chat.*", r.onRemoteRoomFrame)
}

func (r *Router) onRemoteUserFrame(topic string, payload []byte) {
	env, err := pubsub.UnwrapFrame(payload)
	if err != nil || env.Origin == r.nodeID {
		return
	}
	userID := strings.TrimPrefix(topic, "user:")
	r.broadcaster.SendToUser(userID, env.Frame)
}

func (r *Router) onRemoteRoomFrame(topic string, payload []byte) {
	env, err := pubsub.UnwrapFrame(payload)
	if err != nil || env.Origin == r.nodeID {
		return
	}
	roomID := strings.TrimPrefix(topic, "chat.")
	r.broadcaster.SendToRoom(roomID, env.Frame, env.Exclude)
}

// publish pushes a frame onto the cross-node fabric. Best effort.
func (r *Router) publish(topic, exclude string, frame []byte) {
	if r.broker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.broker.Publish(ctx, topic, pubsub.WrapFrame(r.nodeID, exclude, frame)); err != nil {
		r.logger.Warn("Publish failed", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (r *Router) sendError(connID uuid.UUID, message string) {
	r.broadcaster.SendToConnection(connID, protocol.ErrorFrame(message))
}

// decode unmarshals a payload, reporting a parse failure to the origin.
func decode[T any](r *Router, connID uuid.UUID, raw []byte) (T, bool) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.sendError(connID, "Invalid payload")
		return payload, false
	}
	return payload, true
}
