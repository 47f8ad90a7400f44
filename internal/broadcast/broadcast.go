// Package broadcast routes outbound frames to the right set of live
// connections: one connection, one user (all devices), one room, or
// everyone. Delivery is best-effort per recipient; one dead connection never
// stops the rest of a fan-out.
package broadcast

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
)

// MemberSource answers durable room membership; satisfied by
// *rooms.Directory.
type MemberSource interface {
	Members(roomID string) []string
}

type Broadcaster struct {
	registry *registry.Registry
	dir      MemberSource
	logger   *slog.Logger
}

func New(reg *registry.Registry, dir MemberSource, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		dir:      dir,
		logger:   logger.With(slog.String("component", "broadcast")),
	}
}

// SendToConnection delivers to a single connection. Reports a miss if the
// connection is gone.
func (b *Broadcaster) SendToConnection(connID uuid.UUID, payload []byte) bool {
	conn, ok := b.registry.Get(connID)
	if !ok {
		b.logger.Debug("Delivery miss: connection gone", slog.String("connID", connID.String()))
		return false
	}
	conn.Transport.Send(payload)
	return true
}

// SendToUser delivers to every live connection of a user and returns the
// fan-out count. Zero is a logged miss, not an error: broadcast operations
// never surface recipient absence to the sender.
func (b *Broadcaster) SendToUser(userID string, payload []byte) int {
	conns := b.registry.FindByUser(userID)
	for _, conn := range conns {
		conn.Transport.Send(payload)
	}
	if len(conns) == 0 {
		b.logger.Debug("Delivery miss: user offline", slog.String("userID", userID))
	}
	return len(conns)
}

// SendToRoom delivers to every connection that should see roomID traffic:
// for the global room, every authenticated connection; otherwise the union
// of the room's durable member set and connections currently viewing the
// room. All connections of excludeUserID are skipped.
func (b *Broadcaster) SendToRoom(roomID string, payload []byte, excludeUserID string) int {
	if rooms.Classify(roomID) == rooms.ClassGlobal {
		return b.BroadcastAll(payload, excludeUserID)
	}

	memberSet := make(map[string]bool)
	for _, userID := range b.dir.Members(roomID) {
		memberSet[userID] = true
	}

	recipients := b.registry.Find(func(c registry.Conn) bool {
		if !c.Authenticated || c.UserID == excludeUserID {
			return false
		}
		// The currently-viewing hint extends the durable set so a user whose
		// membership write is still in flight keeps receiving live traffic.
		return memberSet[c.UserID] || c.CurrentRoom == roomID
	})
	for _, conn := range recipients {
		conn.Transport.Send(payload)
	}
	b.logger.Debug("Room broadcast",
		slog.String("roomID", roomID),
		slog.Int("recipients", len(recipients)),
	)
	return len(recipients)
}

// BroadcastAll delivers to every authenticated connection except those of
// excludeUserID.
func (b *Broadcaster) BroadcastAll(payload []byte, excludeUserID string) int {
	recipients := b.registry.Find(func(c registry.Conn) bool {
		return c.Authenticated && c.UserID != excludeUserID
	})
	for _, conn := range recipients {
		conn.Transport.Send(payload)
	}
	return len(recipients)
}
