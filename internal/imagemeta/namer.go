package imagemeta

import (
	"sync"
	"time"
)

// Namer issues strictly increasing nanosecond timestamps for asset
// names. Rapid successive uploads can land in the same clock reading,
// so the last issued value is tracked and bumped past on collision.
type Namer struct {
	mu   sync.Mutex
	last int64
}

// Next returns a unique monotonic value for this process.
func (n *Namer) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return now
}
