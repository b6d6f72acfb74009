package state

import (
	"sync"

	"screenroom/pkg/errors"
)

// DisplayPool manages display number and screen-server port allocation for
// concurrently active sessions. The pool is a bounded set of integers
// starting at firstDisplay; a display's port is always basePort + display.
type DisplayPool struct {
	firstDisplay int
	maxDisplays  int
	basePort     int
	reserved     map[int]bool
	mu           sync.Mutex
}

// NewDisplayPool creates a pool handing out maxDisplays numbers starting at
// firstDisplay.
func NewDisplayPool(firstDisplay, maxDisplays, basePort int) *DisplayPool {
	return &DisplayPool{
		firstDisplay: firstDisplay,
		maxDisplays:  maxDisplays,
		basePort:     basePort,
		reserved:     make(map[int]bool),
	}
}

// Reserve picks the lowest free display number and returns it with its
// derived port. Returns ErrPoolExhausted when every number is reserved.
func (p *DisplayPool) Reserve() (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for n := p.firstDisplay; n < p.firstDisplay+p.maxDisplays; n++ {
		if !p.reserved[n] {
			p.reserved[n] = true
			return n, p.basePort + n, nil
		}
	}

	return 0, 0, errors.ErrPoolExhausted
}

// Release returns a display number to the free set. Releasing a number that
// is not reserved is a no-op so teardown paths can race crash-recovery
// sweeps safely.
func (p *DisplayPool) Release(display int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.reserved, display)
}

// AvailableCount returns the number of free display numbers.
func (p *DisplayPool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.maxDisplays - len(p.reserved)
}

// Capacity returns the configured maximum of concurrent reservations.
func (p *DisplayPool) Capacity() int {
	return p.maxDisplays
}

// Port returns the screen-server port derived from a display number.
func (p *DisplayPool) Port(display int) int {
	return p.basePort + display
}

// Reset clears all reservations (useful for testing)
func (p *DisplayPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reserved = make(map[int]bool)
}
