package router

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/internal/auth"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

func (r *Router) handleAuth(connID uuid.UUID, raw []byte) {
	req, ok := decode[protocol.AuthRequest](r, connID, raw)
	if !ok {
		return
	}
	identity, err := r.auth.ValidateToken(req.Token)
	if err != nil {
		r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.AuthResponse{
			Type:    protocol.TypeAuthResponse,
			Success: false,
		}))
		return
	}
	r.completeAuth(connID, identity)
	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.AuthResponse{
		Type:     protocol.TypeAuthResponse,
		Success:  true,
		UserID:   identity.UserID,
		Username: identity.Username,
	}))
}

func (r *Router) handleRegister(connID uuid.UUID, raw []byte) {
	req, ok := decode[protocol.RegisterRequest](r, connID, raw)
	if !ok {
		return
	}
	userID, err := r.auth.Register(req.Username, req.Password, req.Email)
	if err != nil {
		r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.RegisterResponse{
			Type:    protocol.TypeRegisterResponse,
			Success: false,
			Message: err.Error(),
		}))
		return
	}
	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.RegisterResponse{
		Type:    protocol.TypeRegisterResponse,
		Success: true,
		UserID:  userID,
	}))
}

func (r *Router) handleLogin(connID uuid.UUID, raw []byte) {
	req, ok := decode[protocol.LoginRequest](r, connID, raw)
	if !ok {
		return
	}
	identity, token, err := r.auth.Login(req.Username, req.Password)
	if err != nil {
		// Storage errors stay behind a generic message; only the credential
		// failure is surfaced verbatim.
		message := "Login failed"
		if errors.Is(err, auth.ErrInvalidCredentials) {
			message = err.Error()
		}
		r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.LoginResponse{
			Type:    protocol.TypeLoginResponse,
			Success: false,
			Message: message,
		}))
		return
	}
	// A successful login authenticates the connection in the same exchange;
	// no separate auth frame is needed.
	r.completeAuth(connID, identity)
	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.LoginResponse{
		Type:     protocol.TypeLoginResponse,
		Success:  true,
		UserID:   identity.UserID,
		Username: identity.Username,
		Token:    token,
	}))
}

func (r *Router) handlePing(connID uuid.UUID) {
	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.Pong{
		Type:      protocol.TypePong,
		Timestamp: time.Now().UnixMilli(),
	}))
}

// completeAuth binds the identity to the connection, drops it into the
// global room with its backlog and announces the user if this is their first
// connection.
func (r *Router) completeAuth(connID uuid.UUID, identity auth.Identity) {
	firstConnection := len(r.registry.FindByUser(identity.UserID)) == 0

	if err := r.registry.MarkAuthenticated(connID, identity.UserID, identity.Username); err != nil {
		r.logger.Warn("Authenticated a vanished connection", slog.Any("error", err))
		return
	}
	r.registry.SetCurrentRoom(connID, rooms.GlobalRoomID)

	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.History{
		Type:     protocol.TypeHistory,
		RoomID:   rooms.GlobalRoomID,
		Messages: r.roomHistory(rooms.GlobalRoomID),
	}))

	if firstConnection {
		r.broadcaster.BroadcastAll(protocol.Encode(protocol.UserJoined{
			Type:     protocol.TypeUserJoined,
			UserID:   identity.UserID,
			Username: identity.Username,
		}), identity.UserID)
		r.broadcaster.BroadcastAll(protocol.Encode(protocol.PresenceUpdate{
			Type:     protocol.TypePresenceUpdate,
			UserID:   identity.UserID,
			Username: identity.Username,
			Status:   "online",
		}), identity.UserID)
	}
}
