package result

import "sync/atomic"

// IDGenerator hands out incrementing detection result ID numbers.  It is
// shared by every frame a detector processes so IDs stay unique for the
// lifetime of the process.
type IDGenerator struct {
	id atomic.Int64
}

// NewIDGenerator returns a generator starting at 1
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GetNext returns the next incremental number
func (g *IDGenerator) GetNext() int64 {
	return g.id.Add(1)
}
