package models

import (
	"sync"
	"time"

	"github.com/souzou-notes/souzou/internal/wire"
)

// Stamp is the logical timestamp attached to every local mutation: wall
// clock in milliseconds, a tie-breaking counter for edits within the same
// millisecond, and the producing device id. See wire.Stamp for ordering.
type Stamp wire.Stamp

// Compare returns -1, 0 or +1 ordering s before/equal/after o.
func (s Stamp) Compare(o Stamp) int {
	return wire.Stamp(s).Compare(wire.Stamp(o))
}

func (s Stamp) IsZero() bool {
	return s == Stamp{}
}

// Clock issues strictly increasing Stamps for one device. Safe for
// concurrent use.
type Clock struct {
	origin string

	mu       sync.Mutex
	lastWall int64
	seq      int64
}

// NewClock returns a Clock stamping with the given device origin id.
func NewClock(origin string) *Clock {
	return &Clock{origin: origin}
}

// Origin returns the device id this clock stamps with.
func (c *Clock) Origin() string { return c.origin }

// Now returns a Stamp strictly greater than any previously issued by this
// clock, even when the wall clock stalls or steps backwards.
func (c *Clock) Now() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := time.Now().UnixMilli()
	if wall <= c.lastWall {
		wall = c.lastWall
		c.seq++
	} else {
		c.lastWall = wall
		c.seq = 0
	}
	return Stamp{WallMS: wall, Seq: c.seq, Origin: c.origin}
}
