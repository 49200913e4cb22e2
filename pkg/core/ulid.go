package core

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator issues ULIDs that sort in issue order, including ids minted
// within the same millisecond.
type IDGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewIDGenerator returns a generator stamping ids with now. A nil now uses
// the wall clock.
func NewIDGenerator(now func() time.Time, seed int64) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{
		now:     now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(seed)), 0),
	}
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

// IDTime returns the millisecond an id was issued at.
func IDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

var interactionIDs = NewIDGenerator(nil, time.Now().UnixNano())

// NewInteractionID returns an id for a remote-context interaction or
// bridge window.
func NewInteractionID() string {
	return interactionIDs.Next()
}
