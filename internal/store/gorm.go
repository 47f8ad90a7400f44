package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on GORM with a SQLite database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Open connects to the database at dsn and migrates the schema.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Room{}, &RoomMember{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateUser(u *User) error {
	var count int64
	if err := s.db.Model(&User{}).Where("username = ?", u.Username).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}
	if err := s.db.Create(u).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *GormStore) UserByUsername(username string) (*User, error) {
	var u User
	if err := s.db.First(&u, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (s *GormStore) UserByID(userID string) (*User, error) {
	var u User
	if err := s.db.First(&u, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (s *GormStore) CreateRoom(r *Room) error {
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *GormStore) AddRoomMember(roomID, userID string) error {
	member := RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}
	// Membership is idempotent; re-joining a room is not an error.
	err := s.db.Where("room_id = ? AND user_id = ?", roomID, userID).
		FirstOrCreate(&member).Error
	if err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return nil
}

func (s *GormStore) RemoveRoomMember(roomID, userID string) error {
	err := s.db.Delete(&RoomMember{}, "room_id = ? AND user_id = ?", roomID, userID).Error
	if err != nil {
		return fmt.Errorf("failed to remove room member: %w", err)
	}
	return nil
}

func (s *GormStore) RoomMembers(roomID string) ([]string, error) {
	var members []RoomMember
	if err := s.db.Find(&members, "room_id = ?", roomID).Error; err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *GormStore) EnsureDMRoom(roomID, userA, userB string) error {
	room := Room{
		RoomID:    roomID,
		Name:      "dm",
		CreatedBy: userA,
		IsDM:      true,
		CreatedAt: time.Now(),
	}
	if err := s.db.Where("room_id = ?", roomID).FirstOrCreate(&room).Error; err != nil {
		return fmt.Errorf("failed to ensure dm room: %w", err)
	}
	if err := s.AddRoomMember(roomID, userA); err != nil {
		return err
	}
	return s.AddRoomMember(roomID, userB)
}

func (s *GormStore) CreateMessage(m *Message) error {
	if err := s.db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *GormStore) MessagesByRoom(roomID string, limit int) ([]Message, error) {
	var recent []Message
	err := s.db.Where("room_id = ?", roomID).
		Order("timestamp desc").
		Limit(limit).
		Find(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	// Query newest-first to apply the limit, deliver oldest-first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}
