// Package call owns the signaling-layer lifecycle of voice/video/screen
// calls: session state, participant media flags, and relay of opaque
// SDP/ICE payloads between participants.
package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

type Type string

const (
	TypeAudio  Type = "audio"
	TypeVideo  Type = "video"
	TypeScreen Type = "screen"
)

// State of a call session. Idle is the absence of a session and Ended is
// immediate deletion, so only the three in-flight states are materialized.
type State string

const (
	StateCalling    State = "calling"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

type Participant struct {
	UserID          string
	HasVideo        bool
	HasAudio        bool
	IsMuted         bool
	IsScreenSharing bool
}

type Session struct {
	CallID       string
	Type         Type
	State        State
	InitiatorID  string
	Participants []Participant
	StartedAt    time.Time
	// ConnectedAt is zero until an answer promotes the call to connected.
	ConnectedAt time.Time
}

// SendToUser delivers a frame to every live connection of a user and
// returns the fan-out count.
type SendToUser func(userID string, frame []byte) int

// Publisher is the topic fallback used when a signal target has no live
// connection. Best effort: an offline user may simply never see the signal.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Manager is the call-signaling state machine. Every public operation runs
// under one mutex, so call state is never read half-updated and a
// participant list is never mutated while a relay iterates it.
type Manager struct {
	mu        sync.Mutex
	calls     map[string]*Session
	userCalls map[string]string // userID -> callID; one active call per user

	sendToUser SendToUser
	broker     Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(sendToUser SendToUser, broker Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		calls:      make(map[string]*Session),
		userCalls:  make(map[string]string),
		sendToUser: sendToUser,
		broker:     broker,
		logger:     logger.With(slog.String("component", "call_signaling")),
		now:        time.Now,
	}
}

// Initiate starts a call from caller to target and signals the target.
// Fails if the caller is already in a call.
func (m *Manager) Initiate(callerID, callerName, targetID string, callType Type) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.userCalls[callerID]; busy {
		return "", ErrAlreadyInCall
	}

	session := &Session{
		CallID:      "call-" + ksuid.New().String(),
		Type:        callType,
		State:       StateCalling,
		InitiatorID: callerID,
		StartedAt:   m.now(),
		Participants: []Participant{{
			UserID:          callerID,
			HasVideo:        callType == TypeVideo,
			HasAudio:        true,
			IsScreenSharing: callType == TypeScreen,
		}},
	}
	m.calls[session.CallID] = session
	m.userCalls[callerID] = session.CallID

	m.logger.Info("Call initiated",
		slog.String("callID", session.CallID),
		slog.String("caller", callerID),
		slog.String("target", targetID),
	)

	m.signal(targetID, protocol.Encode(protocol.CallIncoming{
		Type:       protocol.TypeCallIncoming,
		CallID:     session.CallID,
		CallerID:   callerID,
		CallerName: callerName,
		CallType:   string(callType),
	}))
	return session.CallID, nil
}

// Accept joins userID to a ringing call and notifies the initiator. Only
// valid from the calling state; participants are untouched otherwise.
func (m *Manager) Accept(callID, userID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if session.State != StateCalling {
		return ErrInvalidState
	}

	session.Participants = append(session.Participants, Participant{
		UserID:   userID,
		HasVideo: session.Type == TypeVideo,
		HasAudio: true,
	})
	m.userCalls[userID] = callID
	session.State = StateConnecting

	m.logger.Info("Call accepted", slog.String("callID", callID), slog.String("user", userID))

	m.signal(session.InitiatorID, protocol.Encode(protocol.CallAccepted{
		Type:         protocol.TypeCallAccepted,
		CallID:       callID,
		AccepterID:   userID,
		AccepterName: username,
	}))
	return nil
}

// Reject declines a call, notifies the initiator and tears the session
// down, releasing every participant's call slot.
func (m *Manager) Reject(callID, userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}

	m.logger.Info("Call rejected",
		slog.String("callID", callID),
		slog.String("user", userID),
		slog.String("reason", reason),
	)

	m.signal(session.InitiatorID, protocol.Encode(protocol.CallRejected{
		Type:   protocol.TypeCallRejected,
		CallID: callID,
		UserID: userID,
		Reason: reason,
	}))
	m.deleteLocked(session)
	return nil
}

// End terminates a call from any state. Every other participant is notified
// with the connected duration (zero if the call never connected).
func (m *Manager) End(callID, userID string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.calls[callID]
	if !ok {
		return 0, ErrNotFound
	}

	var duration time.Duration
	if !session.ConnectedAt.IsZero() {
		duration = m.now().Sub(session.ConnectedAt)
	}

	frame := protocol.Encode(protocol.CallEnded{
		Type:     protocol.TypeCallEnded,
		CallID:   callID,
		EndedBy:  userID,
		Duration: int64(duration.Seconds()),
	})
	for _, p := range session.Participants {
		if p.UserID != userID {
			m.signal(p.UserID, frame)
		}
	}
	m.deleteLocked(session)

	m.logger.Info("Call ended",
		slog.String("callID", callID),
		slog.String("user", userID),
		slog.Duration("duration", duration),
	)
	return duration, nil
}

// SendOffer relays an opaque SDP offer to a named user. Pure relay, no
// state transition.
func (m *Manager) SendOffer(callID, fromUserID, toUserID, sdp string) {
	m.relaySignal(protocol.TypeWebRTCOffer, callID, fromUserID, toUserID, sdp, "")
}

// SendAnswer relays an opaque SDP answer and, if the session exists, marks
// the call connected and stamps the connect time.
func (m *Manager) SendAnswer(callID, fromUserID, toUserID, sdp string) {
	m.mu.Lock()
	if session, ok := m.calls[callID]; ok {
		session.State = StateConnected
		session.ConnectedAt = m.now()
	}
	m.mu.Unlock()
	m.relaySignal(protocol.TypeWebRTCAnswer, callID, fromUserID, toUserID, sdp, "")
}

// SendIceCandidate relays an opaque ICE candidate. Pure relay.
func (m *Manager) SendIceCandidate(callID, fromUserID, toUserID, candidate string) {
	m.relaySignal(protocol.TypeWebRTCIce, callID, fromUserID, toUserID, "", candidate)
}

// ToggleMute flips the caller's own mute flag and tells the other
// participants. Returns the new value.
func (m *Manager) ToggleMute(callID, userID string) (bool, error) {
	return m.mutateParticipant(callID, userID, func(p *Participant) (bool, protocol.MediaState) {
		p.IsMuted = !p.IsMuted
		v := p.IsMuted
		return v, protocol.MediaState{Type: protocol.TypeMediaMute, Muted: &v}
	})
}

// ToggleVideo flips the caller's own camera flag.
func (m *Manager) ToggleVideo(callID, userID string) (bool, error) {
	return m.mutateParticipant(callID, userID, func(p *Participant) (bool, protocol.MediaState) {
		p.HasVideo = !p.HasVideo
		v := p.HasVideo
		return v, protocol.MediaState{Type: protocol.TypeMediaVideo, Video: &v}
	})
}

// SetScreenShare turns the caller's screen sharing on or off.
func (m *Manager) SetScreenShare(callID, userID string, sharing bool) (bool, error) {
	return m.mutateParticipant(callID, userID, func(p *Participant) (bool, protocol.MediaState) {
		p.IsScreenSharing = sharing
		v := p.IsScreenSharing
		return v, protocol.MediaState{Type: protocol.TypeMediaScreen, Sharing: &v}
	})
}

// ActiveCall reports the call a user is currently in, if any.
func (m *Manager) ActiveCall(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	callID, ok := m.userCalls[userID]
	return callID, ok
}

// Get returns a snapshot of a session.
func (m *Manager) Get(callID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.calls[callID]
	if !ok {
		return Session{}, false
	}
	snap := *session
	snap.Participants = append([]Participant(nil), session.Participants...)
	return snap, true
}

// HandleDisconnect ends the call a user was in when their last connection
// dropped. Cleanup path; a user not in a call is a no-op.
func (m *Manager) HandleDisconnect(userID string) {
	m.mu.Lock()
	callID, ok := m.userCalls[userID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if _, err := m.End(callID, userID); err != nil {
		m.logger.Warn("Failed to end call on disconnect",
			slog.String("callID", callID),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) mutateParticipant(callID, userID string, mutate func(*Participant) (bool, protocol.MediaState)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.calls[callID]
	if !ok {
		return false, ErrNotFound
	}
	for i := range session.Participants {
		p := &session.Participants[i]
		if p.UserID != userID {
			continue
		}
		value, frame := mutate(p)
		frame.CallID = callID
		frame.UserID = userID
		encoded := protocol.Encode(frame)
		for _, other := range session.Participants {
			if other.UserID != userID {
				m.signal(other.UserID, encoded)
			}
		}
		return value, nil
	}
	return false, ErrNotParticipant
}

func (m *Manager) relaySignal(signalType, callID, fromUserID, toUserID, sdp, candidate string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal(toUserID, protocol.Encode(protocol.WebRTCSignal{
		Type:      signalType,
		CallID:    callID,
		From:      fromUserID,
		Sdp:       sdp,
		Candidate: candidate,
	}))
}

func (m *Manager) deleteLocked(session *Session) {
	for _, p := range session.Participants {
		delete(m.userCalls, p.UserID)
	}
	delete(m.calls, session.CallID)
}

// signal prefers direct per-user delivery and falls back to a topic publish
// when the user has no live connection. The fallback may silently miss.
func (m *Manager) signal(userID string, frame []byte) {
	if m.sendToUser(userID, frame) > 0 {
		return
	}
	if m.broker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.broker.Publish(ctx, "user:"+userID, frame); err != nil {
		m.logger.Warn("Signal fallback publish failed",
			slog.String("userID", userID),
			slog.Any("error", err),
		)
	}
}
