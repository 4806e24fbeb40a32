package bufferpool

import (
	"sync"

	"github.com/tuannm99/minibase/internal/storage"
)

var _ Replacer = (*ClockReplacer)(nil)

// ClockReplacer is a CLOCK (second-chance) alternative to LRUReplacer.
// Unpin admits a frame with its ref bit set; Victim sweeps the hand,
// clearing ref bits, and evicts the first candidate found without one.
type ClockReplacer struct {
	mu sync.Mutex

	ref     []bool
	present []bool
	hand    int
	size    int // number of candidate frames
}

func NewClockReplacer(capacity int) *ClockReplacer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ClockReplacer{
		ref:     make([]bool, capacity),
		present: make([]bool, capacity),
	}
}

func (r *ClockReplacer) Victim() (storage.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.ref)
	if r.size == 0 {
		return 0, false
	}

	// Up to 2 sweeps: the first may only clear ref bits.
	for i := 0; i < 2*n; i++ {
		idx := r.hand
		if r.present[idx] {
			if !r.ref[idx] {
				r.present[idx] = false
				r.size--
				r.hand = (r.hand + 1) % n
				return storage.FrameID(idx), true
			}
			// Second chance.
			r.ref[idx] = false
		}
		r.hand = (r.hand + 1) % n
	}
	return 0, false
}

func (r *ClockReplacer) Pin(frameID storage.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(frameID)
	if idx < 0 || idx >= len(r.ref) || !r.present[idx] {
		return
	}
	r.present[idx] = false
	r.ref[idx] = false
	r.size--
}

func (r *ClockReplacer) Unpin(frameID storage.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(frameID)
	if idx < 0 || idx >= len(r.ref) || r.present[idx] {
		return
	}
	r.present[idx] = true
	r.ref[idx] = true
	r.size++
}

func (r *ClockReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
