package upload

import "errors"

var (
	// ErrSessionNotFound is returned when the upload id is unknown.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrNotOwner is returned when a user touches an upload started by
	// someone else.
	ErrNotOwner = errors.New("upload belongs to a different user")

	// ErrTooLarge is returned at init when the declared file size exceeds
	// the configured limit.
	ErrTooLarge = errors.New("declared file size exceeds the upload limit")

	// ErrIncomplete is returned by finalize when not every chunk arrived.
	ErrIncomplete = errors.New("upload is missing chunks")

	// ErrChunkRange is returned for a chunk index outside [0, totalChunks).
	ErrChunkRange = errors.New("chunk index out of range")
)
