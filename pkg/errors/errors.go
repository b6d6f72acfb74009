package errors

import "errors"

var (
	// ErrPoolExhausted means no free display number remains; callers should
	// queue or reject new sessions.
	ErrPoolExhausted = errors.New("display pool exhausted")

	// ErrSpawnFailed covers missing binaries and permission errors when
	// launching a supervised process.
	ErrSpawnFailed = errors.New("process spawn failed")

	// ErrDisplayCreateFailed aggregates failures during the three-process
	// display bring-up. Partial state is rolled back before this surfaces.
	ErrDisplayCreateFailed = errors.New("display create failed")

	// ErrInvalidSessionID is returned before any filesystem or network
	// operation when a session id fails the allow-list.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrUploadFailed marks a recoverable transport failure; the local
	// recording is left in place for retry.
	ErrUploadFailed = errors.New("recording upload failed")

	ErrRecordingNotFound = errors.New("recording not found")
	ErrDisplayNotFound   = errors.New("display not found")
)
