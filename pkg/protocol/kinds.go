// Package protocol defines the JSON frame vocabulary spoken over a client
// connection. Every frame is a flat JSON object carrying a "type" field; the
// remaining fields depend on the kind.
package protocol

// Kind identifies an inbound frame type.
type Kind string

const (
	// Session establishment. Allowed before authentication.
	KindAuth     Kind = "auth"
	KindRegister Kind = "register"
	KindLogin    Kind = "login"
	KindPing     Kind = "ping"

	// Messaging and presence.
	KindChat           Kind = "chat"
	KindTyping         Kind = "typing"
	KindJoinRoom       Kind = "join_room"
	KindLeaveRoom      Kind = "leave_room"
	KindGetOnlineUsers Kind = "get_online_users"
	KindPresenceUpdate Kind = "presence_update"

	// Call signaling.
	KindCallInit         Kind = "call_init"
	KindCallAccept       Kind = "call_accept"
	KindCallReject       Kind = "call_reject"
	KindCallEnd          Kind = "call_end"
	KindWebRTCOffer      Kind = "webrtc_offer"
	KindWebRTCAnswer     Kind = "webrtc_answer"
	KindWebRTCIce        Kind = "webrtc_ice"
	KindToggleMute       Kind = "toggle_mute"
	KindToggleVideo      Kind = "toggle_video"
	KindScreenShareStart Kind = "screen_share_start"
	KindScreenShareStop  Kind = "screen_share_stop"

	// Chunked uploads.
	KindUploadInit     Kind = "upload_init"
	KindUploadChunk    Kind = "upload_chunk"
	KindUploadFinalize Kind = "upload_finalize"
	KindUploadAbort    Kind = "upload_abort"

	// AI completion.
	KindAIRequest Kind = "ai_request"
)

var knownKinds = map[Kind]bool{
	KindAuth: true, KindRegister: true, KindLogin: true, KindPing: true,
	KindChat: true, KindTyping: true, KindJoinRoom: true, KindLeaveRoom: true,
	KindGetOnlineUsers: true, KindPresenceUpdate: true,
	KindCallInit: true, KindCallAccept: true, KindCallReject: true, KindCallEnd: true,
	KindWebRTCOffer: true, KindWebRTCAnswer: true, KindWebRTCIce: true,
	KindToggleMute: true, KindToggleVideo: true,
	KindScreenShareStart: true, KindScreenShareStop: true,
	KindUploadInit: true, KindUploadChunk: true, KindUploadFinalize: true, KindUploadAbort: true,
	KindAIRequest: true,
}

// Known reports whether k is part of the protocol.
func Known(k Kind) bool { return knownKinds[k] }

// RequiresAuth reports whether a frame of kind k may only be processed after
// the connection completed an auth or login exchange.
func (k Kind) RequiresAuth() bool {
	switch k {
	case KindAuth, KindRegister, KindLogin, KindPing:
		return false
	}
	return true
}
