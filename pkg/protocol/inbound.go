package protocol

import "encoding/json"

// Inbound payloads. Each struct mirrors the fields a client sends for one
// frame kind; unknown fields are ignored.

type AuthRequest struct {
	Token string `json:"token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChatRequest struct {
	Content  string          `json:"content"`
	RoomID   string          `json:"roomId"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type TypingRequest struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

type PresenceRequest struct {
	Status string `json:"status"`
}

type CallInitRequest struct {
	TargetID string `json:"targetId"`
	CallType string `json:"callType"`
}

type CallAcceptRequest struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
}

type CallRejectRequest struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	Reason   string `json:"reason"`
}

type CallEndRequest struct {
	CallID   string `json:"callId"`
	TargetID string `json:"targetId"`
}

// SignalRelayRequest carries an opaque SDP or ICE payload between two call
// participants. The core never inspects Sdp or Candidate.
type SignalRelayRequest struct {
	CallID    string `json:"callId"`
	TargetID  string `json:"targetId"`
	Sdp       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

type MediaControlRequest struct {
	CallID string `json:"callId"`
}

type UploadInitRequest struct {
	UploadID    string `json:"uploadId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	ChunkSize   int    `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

type UploadChunkRequest struct {
	UploadID    string `json:"uploadId"`
	ChunkIndex  int    `json:"chunkIndex"`
	ChunkData   string `json:"chunkData"` // base64
	TotalChunks int    `json:"totalChunks"`
}

type UploadFinalizeRequest struct {
	UploadID string `json:"uploadId"`
}

type UploadAbortRequest struct {
	UploadID string `json:"uploadId"`
}

type AIRequest struct {
	Message string `json:"message"`
}
