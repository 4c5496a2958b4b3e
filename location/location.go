// Package location supplies coordinate snapshots to detection assembly.
// Positioning itself is external; UI clients feed fixes in over the HTTP API.
package location

import (
	"sync"
	"time"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// Provider hands out the latest known location. Current must be a cheap,
// non-blocking read; assembly calls it on every detection.
type Provider interface {
	Current() utils.LocationSnapshot
}

// Feed is a settable Provider. The daemon has no GPS of its own, so the UI
// pushes fixes in and assembly reads the last one out.
type Feed struct {
	mu        sync.RWMutex
	snapshot  utils.LocationSnapshot
	updatedAt time.Time
}

func NewFeed() *Feed {
	return &Feed{}
}

// Update replaces the latest fix.
func (f *Feed) Update(snap utils.LocationSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
	f.updatedAt = time.Now()
}

// Current returns the latest fix, zero-valued until the first Update.
func (f *Feed) Current() utils.LocationSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot
}

// UpdatedAt reports when the last fix arrived, for staleness display.
func (f *Feed) UpdatedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updatedAt
}
