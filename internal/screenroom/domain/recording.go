package domain

import "time"

// RecordingHandle describes one active encoder process capturing a session's
// display. At most one exists per session id.
type RecordingHandle struct {
	SessionID     string
	DisplayTarget string // Display the encoder reads from, e.g. ":1"
	OutputPath    string // Pre-validated path under the recordings root
	Encoder       ProcessRef
	FPS           int
	CRF           int
	StartedAt     time.Time
}

// Duration reports how long the recording has been running.
func (h *RecordingHandle) Duration() time.Duration {
	return time.Since(h.StartedAt)
}

// StoredRecording describes one finished recording in the object store.
type StoredRecording struct {
	ObjectKey   string
	SizeBytes   int64
	ContentType string
	UploadedAt  time.Time
}
