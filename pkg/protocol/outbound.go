package protocol

import "encoding/json"

// Outbound frame type tags.
const (
	TypeError              = "error"
	TypeAuthResponse       = "auth_response"
	TypeRegisterResponse   = "register_response"
	TypeLoginResponse      = "login_response"
	TypePong               = "pong"
	TypeChat               = "chat"
	TypeTyping             = "typing"
	TypeRoomJoined         = "room_joined"
	TypeRoomLeft           = "room_left"
	TypeUserJoinedRoom     = "user_joined_room"
	TypeUserLeftRoom       = "user_left_room"
	TypeUserJoined         = "user_joined"
	TypeHistory            = "history"
	TypeOnlineUsers        = "online_users"
	TypePresenceUpdate     = "presence_update"
	TypeCallIncoming       = "call_incoming"
	TypeCallInitResponse   = "call_init_response"
	TypeCallAccepted       = "call_accepted"
	TypeCallAcceptResponse = "call_accept_response"
	TypeCallRejected       = "call_rejected"
	TypeCallRejectResponse = "call_reject_response"
	TypeCallEnded          = "call_ended"
	TypeCallEndResponse    = "call_end_response"
	TypeWebRTCOffer        = "webrtc_offer"
	TypeWebRTCAnswer       = "webrtc_answer"
	TypeWebRTCIce          = "webrtc_ice"
	TypeMediaMute          = "media_mute"
	TypeMediaVideo         = "media_video"
	TypeMediaScreen        = "media_screen"
	TypeUploadReady        = "upload_ready"
	TypeUploadProgress     = "upload_progress"
	TypeUploadComplete     = "upload_complete"
	TypeUploadError        = "upload_error"
	TypeAIResponse         = "ai_response"
	TypeAIError            = "ai_error"
)

// Encode marshals an outbound frame. Frames are plain structs of
// marshal-safe fields, so an encoding failure is a programming error; it is
// reported to the client as a generic error frame instead of a panic.
func Encode(frame any) []byte {
	b, err := json.Marshal(frame)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return b
}

// ErrorFrame builds the generic error frame sent back to the origin of a
// failed operation.
func ErrorFrame(message string) []byte {
	return Encode(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeError, message})
}

type AuthResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type RegisterResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

type LoginResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Message  string `json:"message,omitempty"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessage is the canonical delivered chat frame, for live traffic and
// history alike.
type ChatMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
	Timestamp int64           `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type RoomMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type RoomJoined struct {
	Type        string        `json:"type"`
	RoomID      string        `json:"roomId"`
	UserID      string        `json:"userId"`
	Username    string        `json:"username"`
	History     []ChatMessage `json:"history"`
	MemberCount int           `json:"memberCount"`
	Members     []RoomMember  `json:"members"`
}

type RoomLeft struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type RoomPresence struct {
	Type     string `json:"type"` // user_joined_room | user_left_room
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// History carries a room's message backlog, pushed to a freshly
// authenticated connection for the global room.
type History struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// UserJoined announces a user coming online to the global room.
type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type OnlineUsers struct {
	Type  string       `json:"type"`
	Users []RoomMember `json:"users"`
}

type PresenceUpdate struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type CallIncoming struct {
	Type       string `json:"type"`
	CallID     string `json:"callId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	CallType   string `json:"callType"`
}

type CallInitResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	CallID  string `json:"callId,omitempty"`
	Message string `json:"message,omitempty"`
}

type CallAccepted struct {
	Type         string `json:"type"`
	CallID       string `json:"callId"`
	AccepterID   string `json:"accepterId"`
	AccepterName string `json:"accepterName"`
}

type CallRejected struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

type CallEnded struct {
	Type     string `json:"type"`
	CallID   string `json:"callId"`
	EndedBy  string `json:"endedBy"`
	Duration int64  `json:"duration"`
}

type CallAck struct {
	Type    string `json:"type"` // call_accept_response | call_reject_response | call_end_response
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WebRTCSignal relays an opaque SDP or ICE payload to a call peer.
type WebRTCSignal struct {
	Type      string `json:"type"` // webrtc_offer | webrtc_answer | webrtc_ice
	CallID    string `json:"callId"`
	From      string `json:"from"`
	Sdp       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

type MediaState struct {
	Type    string `json:"type"` // media_mute | media_video | media_screen
	CallID  string `json:"callId"`
	UserID  string `json:"userId"`
	Muted   *bool  `json:"muted,omitempty"`
	Video   *bool  `json:"video,omitempty"`
	Sharing *bool  `json:"sharing,omitempty"`
}

type UploadReady struct {
	Type        string `json:"type"`
	UploadID    string `json:"uploadId"`
	ChunkSize   int    `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

type UploadProgress struct {
	Type           string `json:"type"`
	UploadID       string `json:"uploadId"`
	ChunksReceived int    `json:"chunksReceived"`
	TotalChunks    int    `json:"totalChunks"`
	Progress       int    `json:"progress"`
}

type UploadComplete struct {
	Type     string `json:"type"`
	UploadID string `json:"uploadId"`
	FileID   string `json:"fileId"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	IsVoice  bool   `json:"isVoice"`
}

type UploadError struct {
	Type     string `json:"type"`
	UploadID string `json:"uploadId,omitempty"`
	Message  string `json:"message"`
}

type AIResponse struct {
	Type     string `json:"type"`
	Response string `json:"response"`
}

type AIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
