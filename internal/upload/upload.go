// Package upload reassembles files sent in base64 chunks over the
// connection. Each upload gets its own temporary directory; chunks land as
// individual files and finalize concatenates them in index order into one
// artifact under the public upload directory. Temporary state is removed on
// every exit path, success or not.
package upload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/store"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

// Announcer fans the attachment message out to the owning room; satisfied by
// *broadcast.Broadcaster.
type Announcer interface {
	SendToRoom(roomID string, payload []byte, excludeUserID string) int
}

// Recorder persists the attachment message into room history. Best effort.
type Recorder interface {
	CreateMessage(m *store.Message) error
}

type Config struct {
	// Dir is where finished artifacts live; served under /uploads/.
	Dir string
	// TempDir holds per-upload chunk directories.
	TempDir string
	// MaxFileSize bounds the declared size at init.
	MaxFileSize int64
	// PublicBaseURL prefixes the file URL handed back to clients.
	PublicBaseURL string
}

// Session is one in-flight upload between init and finalize/abort.
type Session struct {
	UploadID    string
	OwnerID     string
	OwnerName   string
	RoomID      string
	FileName    string
	FileSize    int64
	MimeType    string
	ChunkSize   int
	TotalChunks int

	chunksReceived int
	received       map[int]bool
	tempDir        string
	createdAt      time.Time
}

// Attachment is the metadata block embedded in the chat message announcing a
// finished upload.
type Attachment struct {
	Kind     string `json:"kind"` // voice | image | file
	FileID   string `json:"fileId"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Manager tracks every in-flight upload. The mutex guards the session table
// only; chunk file I/O runs outside it with a snapshot of the validated
// session fields.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg       Config
	announcer Announcer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(cfg Config, announcer Announcer, recorder Recorder, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		announcer: announcer,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "upload")),
		now:       time.Now,
	}
}

// Init opens a new upload session and allocates its temporary chunk
// directory. The client may propose an upload id; a fresh one is minted
// otherwise.
func (m *Manager) Init(req protocol.UploadInitRequest, ownerID, ownerName, roomID string) (*protocol.UploadReady, error) {
	if m.cfg.MaxFileSize > 0 && req.FileSize > m.cfg.MaxFileSize {
		return nil, ErrTooLarge
	}
	if req.TotalChunks <= 0 {
		return nil, fmt.Errorf("totalChunks must be positive, got %d", req.TotalChunks)
	}

	uploadID := req.UploadID
	if uploadID == "" {
		uploadID = "upload-" + ksuid.New().String()
	}
	if roomID == "" {
		roomID = rooms.GlobalRoomID
	}

	tempDir := filepath.Join(m.cfg.TempDir, uploadID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("allocating temp dir: %w", err)
	}

	session := &Session{
		UploadID:    uploadID,
		OwnerID:     ownerID,
		OwnerName:   ownerName,
		RoomID:      roomID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
		received:    make(map[int]bool),
		tempDir:     tempDir,
		createdAt:   m.now(),
	}

	m.mu.Lock()
	if old, exists := m.sessions[uploadID]; exists {
		// A re-init replaces the stale attempt wholesale.
		m.cleanupLocked(old)
	}
	m.sessions[uploadID] = session
	m.mu.Unlock()

	m.logger.Info("Upload started",
		slog.String("uploadID", uploadID),
		slog.String("owner", ownerID),
		slog.String("fileName", req.FileName),
		slog.Int64("fileSize", req.FileSize),
		slog.Int("totalChunks", req.TotalChunks),
	)

	return &protocol.UploadReady{
		Type:        protocol.TypeUploadReady,
		UploadID:    uploadID,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
	}, nil
}

// PutChunk decodes and stores one chunk. Duplicate indices overwrite the
// earlier chunk file and do not double-count. The disk write happens outside
// the session lock.
func (m *Manager) PutChunk(uploadID string, ownerID string, chunkIndex int, chunkData string) (*protocol.UploadProgress, error) {
	m.mu.Lock()
	session, ok := m.sessions[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.OwnerID != ownerID {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		m.mu.Unlock()
		return nil, ErrChunkRange
	}
	tempDir := session.tempDir
	m.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(chunkData)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %d: %w", chunkIndex, err)
	}
	chunkPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%d", chunkIndex))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing chunk %d: %w", chunkIndex, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The session can be aborted while the chunk was on its way to disk.
	session, ok = m.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !session.received[chunkIndex] {
		session.received[chunkIndex] = true
		session.chunksReceived++
	}
	return &protocol.UploadProgress{
		Type:           protocol.TypeUploadProgress,
		UploadID:       uploadID,
		ChunksReceived: session.chunksReceived,
		TotalChunks:    session.TotalChunks,
		Progress:       session.chunksReceived * 100 / session.TotalChunks,
	}, nil
}

// Finalize assembles chunks 0..totalChunks-1 into the final artifact,
// announces it to the owning room and tears the session down. Any failure
// also tears the session down; the client restarts from Init.
func (m *Manager) Finalize(uploadID, ownerID string) (*protocol.UploadComplete, error) {
	m.mu.Lock()
	session, ok := m.sessions[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.OwnerID != ownerID {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if session.chunksReceived != session.TotalChunks {
		m.cleanupLocked(session)
		m.mu.Unlock()
		return nil, ErrIncomplete
	}
	// Claim the session before touching the disk so no concurrent chunk or
	// abort races the assembly.
	delete(m.sessions, uploadID)
	m.mu.Unlock()

	defer os.RemoveAll(session.tempDir)

	complete, err := m.assemble(session)
	if err != nil {
		m.logger.Error("Upload assembly failed",
			slog.String("uploadID", uploadID),
			slog.Any("error", err),
		)
		return nil, err
	}
	m.announce(session, complete)

	m.logger.Info("Upload complete",
		slog.String("uploadID", uploadID),
		slog.String("fileID", complete.FileID),
		slog.String("room", session.RoomID),
	)
	return complete, nil
}

// Abort drops an in-flight upload and its temporary files.
func (m *Manager) Abort(uploadID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.OwnerID != ownerID {
		return ErrNotOwner
	}
	m.cleanupLocked(session)
	m.logger.Info("Upload aborted", slog.String("uploadID", uploadID))
	return nil
}

// AbortAllForUser drops every upload a user had in flight. Called when the
// user's last connection closes.
func (m *Manager) AbortAllForUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.OwnerID == userID {
			m.cleanupLocked(session)
		}
	}
}

// Len reports in-flight upload count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) assemble(session *Session) (*protocol.UploadComplete, error) {
	fileID := ksuid.New().String()
	storedName := fileID + filepath.Ext(session.FileName)
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	finalPath := filepath.Join(m.cfg.Dir, storedName)

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, fmt.Errorf("creating artifact: %w", err)
	}
	var size int64
	for i := 0; i < session.TotalChunks; i++ {
		chunk, err := os.ReadFile(filepath.Join(session.tempDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		n, err := out.Write(chunk)
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("writing artifact: %w", err)
		}
		size += int64(n)
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("closing artifact: %w", err)
	}

	return &protocol.UploadComplete{
		Type:     protocol.TypeUploadComplete,
		UploadID: session.UploadID,
		FileID:   fileID,
		FileURL:  m.cfg.PublicBaseURL + "/uploads/" + storedName,
		FileName: session.FileName,
		FileSize: size,
		MimeType: session.MimeType,
		IsVoice:  strings.HasPrefix(session.MimeType, "audio/"),
	}, nil
}

// announce broadcasts the attachment as a chat message to the owning room
// and records it into history.
func (m *Manager) announce(session *Session, complete *protocol.UploadComplete) {
	attachment := Attachment{
		Kind:     attachmentKind(session.MimeType),
		FileID:   complete.FileID,
		FileURL:  complete.FileURL,
		FileName: complete.FileName,
		FileSize: complete.FileSize,
		MimeType: complete.MimeType,
	}
	metadata, _ := json.Marshal(attachment)

	msg := protocol.ChatMessage{
		Type:      protocol.TypeChat,
		MessageID: "msg-" + ksuid.New().String(),
		RoomID:    session.RoomID,
		UserID:    session.OwnerID,
		Username:  session.OwnerName,
		Content:   complete.FileURL,
		Timestamp: m.now().UnixMilli(),
		Metadata:  metadata,
	}
	m.announcer.SendToRoom(session.RoomID, protocol.Encode(msg), "")

	if m.recorder != nil {
		record := &store.Message{
			MessageID:  msg.MessageID,
			RoomID:     session.RoomID,
			SenderID:   session.OwnerID,
			SenderName: session.OwnerName,
			Content:    msg.Content,
			Metadata:   string(metadata),
			Timestamp:  msg.Timestamp,
		}
		if err := m.recorder.CreateMessage(record); err != nil {
			m.logger.Warn("Failed to persist attachment message",
				slog.String("messageID", msg.MessageID),
				slog.Any("error", err),
			)
		}
	}
}

func attachmentKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "voice"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	default:
		return "file"
	}
}

// cleanupLocked removes the session and its temp dir. Caller holds the lock;
// RemoveAll on a small chunk dir is cheap enough to keep in the critical
// section of an abort.
func (m *Manager) cleanupLocked(session *Session) {
	delete(m.sessions, session.UploadID)
	if err := os.RemoveAll(session.tempDir); err != nil {
		m.logger.Warn("Failed to remove upload temp dir",
			slog.String("uploadID", session.UploadID),
			slog.Any("error", err),
		)
	}
}
