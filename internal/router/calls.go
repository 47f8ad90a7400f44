package router

import (
	"errors"

	"github.com/manhdua1/chat-box-v2/internal/call"
	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

func (r *Router) handleCallInit(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.CallInitRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if req.TargetID == "" {
		r.sendError(conn.ID, "targetId is required")
		return
	}
	callType := call.Type(req.CallType)
	if callType == "" {
		callType = call.TypeAudio
	}

	callID, err := r.calls.Initiate(conn.UserID, conn.Username, req.TargetID, callType)
	if err != nil {
		r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.CallInitResponse{
			Type:    protocol.TypeCallInitResponse,
			Success: false,
			Message: callFailureMessage(err),
		}))
		return
	}
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.CallInitResponse{
		Type:    protocol.TypeCallInitResponse,
		Success: true,
		CallID:  callID,
	}))
}

func (r *Router) handleCallAccept(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.CallAcceptRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	err := r.calls.Accept(req.CallID, conn.UserID, conn.Username)
	r.sendCallAck(conn, protocol.TypeCallAcceptResponse, err)
}

func (r *Router) handleCallReject(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.CallRejectRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	err := r.calls.Reject(req.CallID, conn.UserID, req.Reason)
	r.sendCallAck(conn, protocol.TypeCallRejectResponse, err)
}

func (r *Router) handleCallEnd(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.CallEndRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	_, err := r.calls.End(req.CallID, conn.UserID)
	r.sendCallAck(conn, protocol.TypeCallEndResponse, err)
}

func (r *Router) handleSignalRelay(conn registry.Conn, kind protocol.Kind, raw []byte) {
	req, ok := decode[protocol.SignalRelayRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if req.TargetID == "" {
		r.sendError(conn.ID, "targetId is required")
		return
	}
	switch kind {
	case protocol.KindWebRTCOffer:
		r.calls.SendOffer(req.CallID, conn.UserID, req.TargetID, req.Sdp)
	case protocol.KindWebRTCAnswer:
		r.calls.SendAnswer(req.CallID, conn.UserID, req.TargetID, req.Sdp)
	case protocol.KindWebRTCIce:
		r.calls.SendIceCandidate(req.CallID, conn.UserID, req.TargetID, req.Candidate)
	}
}

func (r *Router) handleMediaToggle(conn registry.Conn, kind protocol.Kind, raw []byte) {
	req, ok := decode[protocol.MediaControlRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	var err error
	if kind == protocol.KindToggleMute {
		_, err = r.calls.ToggleMute(req.CallID, conn.UserID)
	} else {
		_, err = r.calls.ToggleVideo(req.CallID, conn.UserID)
	}
	if err != nil {
		r.sendError(conn.ID, callFailureMessage(err))
	}
}

func (r *Router) handleScreenShare(conn registry.Conn, start bool, raw []byte) {
	req, ok := decode[protocol.MediaControlRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if _, err := r.calls.SetScreenShare(req.CallID, conn.UserID, start); err != nil {
		r.sendError(conn.ID, callFailureMessage(err))
	}
}

func (r *Router) sendCallAck(conn registry.Conn, ackType string, err error) {
	ack := protocol.CallAck{Type: ackType, Success: err == nil}
	if err != nil {
		ack.Message = callFailureMessage(err)
	}
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(ack))
}

// callFailureMessage maps state-machine errors to client-safe text.
func callFailureMessage(err error) string {
	switch {
	case errors.Is(err, call.ErrAlreadyInCall):
		return "User is already in a call"
	case errors.Is(err, call.ErrNotFound):
		return "Call not found"
	case errors.Is(err, call.ErrInvalidState):
		return "Call is not in a state that allows this"
	case errors.Is(err, call.ErrNotParticipant):
		return "Not a participant of this call"
	default:
		return "Call operation failed"
	}
}
