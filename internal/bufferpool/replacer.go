package bufferpool

import "github.com/tuannm99/minibase/internal/storage"

// Replacer picks victim frames for eviction. Frames enter the candidate set
// via Unpin (pin count dropped to zero) and leave it via Pin or Victim.
//
// Implementations serialise their own state with an internal mutex, so a
// Replacer is usable on its own; the pool additionally calls it under the
// pool latch.
type Replacer interface {
	// Victim removes and returns the frame selected by the policy.
	// ok is false iff the candidate set is empty.
	Victim() (frameID storage.FrameID, ok bool)

	// Pin removes frameID from the candidate set if present. Idempotent.
	Pin(frameID storage.FrameID)

	// Unpin inserts frameID into the candidate set if absent. Idempotent.
	Unpin(frameID storage.FrameID)

	// Size reports how many frames are eviction candidates.
	Size() int
}
