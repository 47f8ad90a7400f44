package router

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/store"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

// historyLimit caps the backlog replayed on join.
const historyLimit = 50

func (r *Router) handleChat(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.ChatRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if req.Content == "" {
		r.sendError(conn.ID, "Empty message")
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = conn.CurrentRoom
	}
	if roomID == "" {
		roomID = rooms.GlobalRoomID
	}

	msg := protocol.ChatMessage{
		Type:      protocol.TypeChat,
		MessageID: "msg-" + ksuid.New().String(),
		RoomID:    roomID,
		UserID:    conn.UserID,
		Username:  conn.Username,
		Content:   req.Content,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  req.Metadata,
	}

	if peer, isDM := rooms.DMPeer(roomID); isDM {
		r.deliverDirectMessage(conn, peer, msg)
		return
	}

	r.broadcaster.SendToRoom(roomID, protocol.Encode(msg), "")
	r.publish("chat."+roomID, "", protocol.Encode(msg))
	r.persistMessage(msg, r.dir.StorageRoomID(roomID, conn.UserID))
}

// deliverDirectMessage sends the sender-perspective echo to the sender's
// devices and the receiver-perspective copy to the peer. Each side sees the
// conversation under the other user's id.
func (r *Router) deliverDirectMessage(conn registry.Conn, peerID string, msg protocol.ChatMessage) {
	canonical, err := r.dir.EnsureDM(conn.UserID, peerID)
	if err != nil {
		r.sendError(conn.ID, "Failed to open direct conversation")
		return
	}

	r.broadcaster.SendToUser(conn.UserID, protocol.Encode(msg))

	receiverCopy := msg
	receiverCopy.RoomID = rooms.WireDMRoomID(conn.UserID)
	frame := protocol.Encode(receiverCopy)
	if r.broadcaster.SendToUser(peerID, frame) == 0 {
		// The peer may be connected to another node.
		r.publish("user:"+peerID, "", frame)
	}

	r.persistMessage(msg, canonical)
}

func (r *Router) persistMessage(msg protocol.ChatMessage, storageRoomID string) {
	if r.store == nil {
		return
	}
	record := &store.Message{
		MessageID:  msg.MessageID,
		RoomID:     storageRoomID,
		SenderID:   msg.UserID,
		SenderName: msg.Username,
		Content:    msg.Content,
		Metadata:   string(msg.Metadata),
		Timestamp:  msg.Timestamp,
	}
	if err := r.store.CreateMessage(record); err != nil {
		r.logger.Warn("Failed to persist message",
			slog.String("messageID", msg.MessageID),
			slog.Any("error", err),
		)
	}
}

func (r *Router) handleTyping(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.TypingRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = conn.CurrentRoom
	}
	r.broadcaster.SendToRoom(roomID, protocol.Encode(protocol.TypingEvent{
		Type:     protocol.TypeTyping,
		RoomID:   roomID,
		UserID:   conn.UserID,
		Username: conn.Username,
		IsTyping: req.IsTyping,
	}), conn.UserID)
}

func (r *Router) handleJoinRoom(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.JoinRoomRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if req.RoomID == "" {
		r.sendError(conn.ID, "roomId is required")
		return
	}
	roomID := req.RoomID
	storageRoomID := r.dir.StorageRoomID(roomID, conn.UserID)

	if peer, isDM := rooms.DMPeer(roomID); isDM {
		if _, err := r.dir.EnsureDM(conn.UserID, peer); err != nil {
			r.sendError(conn.ID, "Failed to open direct conversation")
			return
		}
	} else if rooms.Classify(roomID) == rooms.ClassOrdinary && r.store != nil {
		// Durable membership is best effort; the live viewing hint still
		// routes traffic while storage recovers.
		r.store.CreateRoom(&store.Room{RoomID: roomID, Name: roomID, CreatedBy: conn.UserID})
		if err := r.store.AddRoomMember(roomID, conn.UserID); err != nil {
			r.logger.Warn("Failed to record room membership",
				slog.String("roomID", roomID),
				slog.Any("error", err),
			)
		}
	}

	r.registry.SetCurrentRoom(conn.ID, roomID)

	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.RoomJoined{
		Type:        protocol.TypeRoomJoined,
		RoomID:      roomID,
		UserID:      conn.UserID,
		Username:    conn.Username,
		History:     r.roomHistory(storageRoomID),
		Members:     r.roomMembers(storageRoomID),
		MemberCount: len(r.dir.Members(storageRoomID)),
	}))

	r.broadcaster.SendToRoom(roomID, protocol.Encode(protocol.RoomPresence{
		Type:     protocol.TypeUserJoinedRoom,
		RoomID:   roomID,
		UserID:   conn.UserID,
		Username: conn.Username,
	}), conn.UserID)
}

func (r *Router) handleLeaveRoom(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.LeaveRoomRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = conn.CurrentRoom
	}
	if roomID == "" || rooms.Classify(roomID) == rooms.ClassGlobal {
		r.sendError(conn.ID, "Cannot leave the global room")
		return
	}

	if rooms.Classify(roomID) == rooms.ClassOrdinary && r.store != nil {
		if err := r.store.RemoveRoomMember(roomID, conn.UserID); err != nil {
			r.logger.Warn("Failed to remove room membership",
				slog.String("roomID", roomID),
				slog.Any("error", err),
			)
		}
	}
	if conn.CurrentRoom == roomID {
		r.registry.SetCurrentRoom(conn.ID, rooms.GlobalRoomID)
	}

	r.broadcaster.SendToRoom(roomID, protocol.Encode(protocol.RoomPresence{
		Type:     protocol.TypeUserLeftRoom,
		RoomID:   roomID,
		UserID:   conn.UserID,
		Username: conn.Username,
	}), conn.UserID)

	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.RoomLeft{
		Type:   protocol.TypeRoomLeft,
		RoomID: roomID,
	}))
}

func (r *Router) handleGetOnlineUsers(connID uuid.UUID) {
	seen := make(map[string]string)
	for _, c := range r.registry.Find(func(c registry.Conn) bool { return c.Authenticated }) {
		seen[c.UserID] = c.Username
	}
	users := make([]protocol.RoomMember, 0, len(seen))
	for userID, username := range seen {
		users = append(users, protocol.RoomMember{UserID: userID, Username: username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	r.broadcaster.SendToConnection(connID, protocol.Encode(protocol.OnlineUsers{
		Type:  protocol.TypeOnlineUsers,
		Users: users,
	}))
}

func (r *Router) handlePresenceUpdate(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.PresenceRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	r.broadcaster.BroadcastAll(protocol.Encode(protocol.PresenceUpdate{
		Type:     protocol.TypePresenceUpdate,
		UserID:   conn.UserID,
		Username: conn.Username,
		Status:   req.Status,
	}), conn.UserID)
}

func (r *Router) roomHistory(storageRoomID string) []protocol.ChatMessage {
	if r.store == nil {
		return []protocol.ChatMessage{}
	}
	records, err := r.store.MessagesByRoom(storageRoomID, historyLimit)
	if err != nil {
		r.logger.Warn("Failed to load room history",
			slog.String("roomID", storageRoomID),
			slog.Any("error", err),
		)
		return []protocol.ChatMessage{}
	}
	history := make([]protocol.ChatMessage, 0, len(records))
	for _, rec := range records {
		history = append(history, protocol.ChatMessage{
			Type:      protocol.TypeChat,
			MessageID: rec.MessageID,
			RoomID:    rec.RoomID,
			UserID:    rec.SenderID,
			Username:  rec.SenderName,
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
			Metadata:  json.RawMessage(rec.Metadata),
		})
	}
	return history
}

// roomMembers resolves member ids to usernames, preferring the live registry
// over a storage lookup.
func (r *Router) roomMembers(storageRoomID string) []protocol.RoomMember {
	memberIDs := r.dir.Members(storageRoomID)
	members := make([]protocol.RoomMember, 0, len(memberIDs))
	for _, userID := range memberIDs {
		username := userID
		if conns := r.registry.FindByUser(userID); len(conns) > 0 {
			username = conns[0].Username
		} else if r.store != nil {
			if user, err := r.store.UserByID(userID); err == nil {
				username = user.Username
			}
		}
		members = append(members, protocol.RoomMember{UserID: userID, Username: username})
	}
	return members
}
