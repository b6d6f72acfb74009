package domain

import (
	"fmt"
	"time"
)

// DisplayHandle describes one live virtual display triple. Exactly one
// handle exists per active session; the display manager owns it exclusively.
type DisplayHandle struct {
	SessionID     string    // Owning session identifier
	DisplayNumber int       // X11 display number (":1" is display 1)
	ScreenPort    int       // Remote-screen TCP port (base port + display number)
	Framebuffer   ProcessRef
	ScreenServer  ProcessRef
	WindowManager ProcessRef
	CreatedAt     time.Time
}

// ProcessRef is a read-only view of a supervised process owned by a handle.
// The supervisor keeps the authoritative state; this carries just enough to
// log and report.
type ProcessRef struct {
	ID  string // Supervisor handle id
	PID int
}

// Target returns the addressable display identifier, e.g. ":3".
func (h *DisplayHandle) Target() string {
	return fmt.Sprintf(":%d", h.DisplayNumber)
}

// DisplayEnv returns the DISPLAY environment entry for child processes
// bound to this display.
func (h *DisplayHandle) DisplayEnv() string {
	return "DISPLAY=" + h.Target()
}

// Uptime reports how long the display has been live.
func (h *DisplayHandle) Uptime() time.Duration {
	return time.Since(h.CreatedAt)
}
