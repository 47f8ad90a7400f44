// Package rooms resolves room identifiers: the implicit global room, wire
// direct-message rooms addressed as dm_<peerUserId>, and ordinary rooms whose
// membership lives in durable storage.
package rooms

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/manhdua1/chat-box-v2/internal/store"
)

// GlobalRoomID is the implicit room every authenticated connection belongs to.
const GlobalRoomID = "global"

const dmWirePrefix = "dm_"
const dmCanonicalPrefix = "dm:"

// Class partitions room identifiers by delivery semantics.
type Class int

const (
	ClassOrdinary Class = iota
	ClassGlobal
	ClassDirect
)

func Classify(roomID string) Class {
	switch {
	case roomID == GlobalRoomID:
		return ClassGlobal
	case strings.HasPrefix(roomID, dmWirePrefix):
		return ClassDirect
	default:
		return ClassOrdinary
	}
}

// DMPeer extracts the peer user id from a wire-form DM room id.
func DMPeer(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, dmWirePrefix) {
		return "", false
	}
	peer := strings.TrimPrefix(roomID, dmWirePrefix)
	if peer == "" {
		return "", false
	}
	return peer, true
}

// WireDMRoomID is the room id under which a DM appears to one side of the
// conversation: each user addresses the room by the other participant.
func WireDMRoomID(peerUserID string) string {
	return dmWirePrefix + peerUserID
}

// CanonicalDMID derives the storage identity of a direct-message
// conversation. The pair is sorted so both directions collapse to one id.
func CanonicalDMID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return dmCanonicalPrefix + pair[0] + ":" + pair[1]
}

// Directory answers membership questions, backed by the durable store.
type Directory struct {
	store  store.Store
	logger *slog.Logger
}

func NewDirectory(st store.Store, logger *slog.Logger) *Directory {
	return &Directory{
		store:  st,
		logger: logger.With(slog.String("component", "room_directory")),
	}
}

// StorageRoomID maps a wire room id to the id used for persistence. For DMs
// the wire form depends on the viewer, so the canonical pair id is derived;
// other rooms persist under their own id.
func (d *Directory) StorageRoomID(roomID, viewerUserID string) string {
	if peer, ok := DMPeer(roomID); ok {
		return CanonicalDMID(viewerUserID, peer)
	}
	return roomID
}

// EnsureDM makes sure the canonical DM conversation for the pair exists and
// returns its storage id.
func (d *Directory) EnsureDM(viewerUserID, peerUserID string) (string, error) {
	canonical := CanonicalDMID(viewerUserID, peerUserID)
	if err := d.store.EnsureDMRoom(canonical, viewerUserID, peerUserID); err != nil {
		return "", err
	}
	return canonical, nil
}

// Members returns the durable member set of an ordinary room. The global
// room has no durable membership; callers handle it before asking. A storage
// failure degrades to an empty set so live delivery can still fall back on
// the currently-viewing hint.
func (d *Directory) Members(roomID string) []string {
	members, err := d.store.RoomMembers(roomID)
	if err != nil {
		d.logger.Warn("Could not load room members",
			slog.String("roomID", roomID),
			slog.Any("error", err),
		)
		return nil
	}
	return members
}
