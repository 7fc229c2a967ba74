package camera

import (
	"sync/atomic"
	"time"
)

// FrameCache holds the most recent frame. It has a single writer and lock-free readers:
// Publish swaps in a new frame and never mutates a published one.
type FrameCache struct {
	latest atomic.Pointer[Frame]
	seq    atomic.Uint64
	now    func() time.Time
}

// NewFrameCache creates an empty cache.
func NewFrameCache() *FrameCache {
	return &FrameCache{now: time.Now}
}

// Publish stores data as the newest frame and returns it. The cache takes ownership of data.
func (c *FrameCache) Publish(data []byte) Frame {
	f := &Frame{
		Seq:       c.seq.Add(1),
		Timestamp: c.now(),
		Data:      data,
	}
	c.latest.Store(f)
	return *f
}

// Latest returns the newest frame, or false when nothing has been published yet.
// Callers must treat Data as read-only.
func (c *FrameCache) Latest() (Frame, bool) {
	f := c.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}
