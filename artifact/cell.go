package artifact

import (
	"sync/atomic"
	"time"
)

// Snapshot pairs an artifact with the time of the build that produced it.
type Snapshot struct {
	Artifact     *Artifact
	LastModified time.Time
}

// Cell holds the current artifact. Readers load a whole snapshot with a
// single atomic read; writers replace the whole snapshot with a single
// atomic store, so an artifact is never paired with another build's
// timestamp.
type Cell struct {
	cur atomic.Pointer[Snapshot]
}

// NewCell creates a cell holding a and its build time.
func NewCell(a *Artifact, builtAt time.Time) *Cell {
	c := &Cell{}
	c.Replace(a, builtAt)
	return c
}

// Load returns the current snapshot.
func (c *Cell) Load() *Snapshot {
	return c.cur.Load()
}

// Replace swaps in a new artifact and timestamp. The last call wins.
func (c *Cell) Replace(a *Artifact, builtAt time.Time) {
	c.cur.Store(&Snapshot{Artifact: a, LastModified: builtAt})
}
