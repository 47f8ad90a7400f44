// Package store is the narrow CRUD surface the realtime core consults for
// durable users, rooms, memberships and message history. The core treats it
// as an external collaborator: failures here degrade an operation, they never
// take a connection down.
package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type User struct {
	UserID       string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"uniqueIndex;size:64"`
	Email        string `gorm:"size:128"`
	PasswordHash string `gorm:"size:128"`
	DisplayName  string `gorm:"size:128"`
	CreatedAt    time.Time
}

type Room struct {
	RoomID    string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	CreatedBy string `gorm:"size:64"`
	IsDM      bool
	CreatedAt time.Time
}

type RoomMember struct {
	RoomID   string `gorm:"primaryKey;size:64"`
	UserID   string `gorm:"primaryKey;size:64"`
	JoinedAt time.Time
}

type Message struct {
	MessageID  string `gorm:"primaryKey;size:64"`
	RoomID     string `gorm:"index;size:64"`
	SenderID   string `gorm:"size:64"`
	SenderName string `gorm:"size:64"`
	Content    string
	Metadata   string
	Timestamp  int64 `gorm:"index"`
}

// Store is everything the transport core needs from durable storage.
type Store interface {
	CreateUser(u *User) error
	UserByUsername(username string) (*User, error)
	UserByID(userID string) (*User, error)

	CreateRoom(r *Room) error
	AddRoomMember(roomID, userID string) error
	RemoveRoomMember(roomID, userID string) error
	RoomMembers(roomID string) ([]string, error)
	// EnsureDMRoom creates the canonical direct-message room for a user pair
	// (with both memberships) if it does not exist yet.
	EnsureDMRoom(roomID, userA, userB string) error

	CreateMessage(m *Message) error
	// MessagesByRoom returns the most recent messages in ascending
	// timestamp order.
	MessagesByRoom(roomID string, limit int) ([]Message, error)
}
