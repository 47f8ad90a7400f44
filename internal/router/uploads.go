package router

import (
	"errors"

	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/upload"
	"github.com/manhdua1/chat-box-v2/pkg/protocol"
)

func (r *Router) handleUploadInit(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.UploadInitRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = conn.CurrentRoom
	}
	if roomID == "" {
		roomID = rooms.GlobalRoomID
	}

	ready, err := r.uploads.Init(req, conn.UserID, conn.Username, roomID)
	if err != nil {
		r.sendUploadError(conn, req.UploadID, err)
		return
	}
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(ready))
}

func (r *Router) handleUploadChunk(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.UploadChunkRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	progress, err := r.uploads.PutChunk(req.UploadID, conn.UserID, req.ChunkIndex, req.ChunkData)
	if err != nil {
		r.sendUploadError(conn, req.UploadID, err)
		return
	}
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(progress))
}

func (r *Router) handleUploadFinalize(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.UploadFinalizeRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	complete, err := r.uploads.Finalize(req.UploadID, conn.UserID)
	if err != nil {
		r.sendUploadError(conn, req.UploadID, err)
		return
	}
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(complete))
}

func (r *Router) handleUploadAbort(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.UploadAbortRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if err := r.uploads.Abort(req.UploadID, conn.UserID); err != nil {
		r.sendUploadError(conn, req.UploadID, err)
	}
}

func (r *Router) handleAIRequest(conn registry.Conn, raw []byte) {
	req, ok := decode[protocol.AIRequest](r, conn.ID, raw)
	if !ok {
		return
	}
	if req.Message == "" {
		r.sendError(conn.ID, "Empty message")
		return
	}
	if err := r.ai.Submit(conn.ID, req.Message); err != nil {
		r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.AIError{
			Type:    protocol.TypeAIError,
			Message: "AI service is busy, try again later",
		}))
	}
}

func (r *Router) sendUploadError(conn registry.Conn, uploadID string, err error) {
	r.broadcaster.SendToConnection(conn.ID, protocol.Encode(protocol.UploadError{
		Type:     protocol.TypeUploadError,
		UploadID: uploadID,
		Message:  uploadFailureMessage(err),
	}))
}

func uploadFailureMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		return "Upload session not found"
	case errors.Is(err, upload.ErrNotOwner):
		return "Upload belongs to a different user"
	case errors.Is(err, upload.ErrTooLarge):
		return "File exceeds the upload size limit"
	case errors.Is(err, upload.ErrIncomplete):
		return "Upload is missing chunks"
	case errors.Is(err, upload.ErrChunkRange):
		return "Chunk index out of range"
	default:
		return "Upload failed"
	}
}
