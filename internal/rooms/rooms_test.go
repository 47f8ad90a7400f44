package rooms_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/store"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		roomID string
		want   rooms.Class
	}{
		{"global", rooms.ClassGlobal},
		{"dm_user-42", rooms.ClassDirect},
		{"room-1", rooms.ClassOrdinary},
		{"globalish", rooms.ClassOrdinary},
	}
	for _, c := range cases {
		if got := rooms.Classify(c.roomID); got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.roomID, got, c.want)
		}
	}
}

func TestDMPeer(t *testing.T) {
	peer, ok := rooms.DMPeer("dm_user-42")
	if !ok || peer != "user-42" {
		t.Errorf("DMPeer = %q, %v", peer, ok)
	}
	if _, ok := rooms.DMPeer("room-1"); ok {
		t.Error("DMPeer should reject non-DM room id")
	}
	if _, ok := rooms.DMPeer("dm_"); ok {
		t.Error("DMPeer should reject empty peer")
	}
}

func TestCanonicalDMIDIsOrderIndependent(t *testing.T) {
	a := rooms.CanonicalDMID("user-b", "user-a")
	b := rooms.CanonicalDMID("user-a", "user-b")
	if a != b {
		t.Fatalf("canonical id differs by initiator: %q vs %q", a, b)
	}
	if a != "dm:user-a:user-b" {
		t.Errorf("unexpected canonical form: %q", a)
	}
}

func TestStorageRoomID(t *testing.T) {
	d := newTestDirectory(t)

	if got := d.StorageRoomID("room-1", "u1"); got != "room-1" {
		t.Errorf("ordinary room mapped to %q", got)
	}
	// Both viewers of one DM converge on the same storage id.
	fromA := d.StorageRoomID("dm_user-b", "user-a")
	fromB := d.StorageRoomID("dm_user-a", "user-b")
	if fromA != fromB {
		t.Errorf("DM storage ids diverge: %q vs %q", fromA, fromB)
	}
}

func newTestDirectory(t *testing.T) *rooms.Directory {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return rooms.NewDirectory(st, newTestLogger())
}

func TestEnsureDMCreatesMembership(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	d := rooms.NewDirectory(st, newTestLogger())

	id, err := d.EnsureDM("user-a", "user-b")
	if err != nil {
		t.Fatalf("EnsureDM: %v", err)
	}
	members := d.Members(id)
	if len(members) != 2 {
		t.Errorf("expected 2 members in %q, got %v", id, members)
	}
}
