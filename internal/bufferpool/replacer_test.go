package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/minibase/internal/storage"
)

func TestLRU_VictimOrderIsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer(7)

	for _, f := range []storage.FrameID{1, 2, 3, 4, 5, 6} {
		r.Unpin(f)
	}
	require.Equal(t, 6, r.Size())

	for _, want := range []storage.FrameID{1, 2, 3, 4, 5, 6} {
		got, ok := r.Victim()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.Equal(t, 0, r.Size())
}

func TestLRU_PinRemovesCandidate(t *testing.T) {
	r := NewLRUReplacer(7)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Pin(2)
	require.Equal(t, 2, r.Size())

	got, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, storage.FrameID(1), got)

	got, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, storage.FrameID(3), got)

	_, ok = r.Victim()
	require.False(t, ok)
}

func TestLRU_VictimOnEmpty(t *testing.T) {
	r := NewLRUReplacer(4)

	_, ok := r.Victim()
	require.False(t, ok)

	// Pin of an untracked frame is a no-op.
	r.Pin(3)
	require.Equal(t, 0, r.Size())
}

func TestLRU_UnpinIsIdempotent(t *testing.T) {
	r := NewLRUReplacer(4)

	r.Unpin(1)
	r.Unpin(1)
	r.Unpin(1)
	require.Equal(t, 1, r.Size())
}

func TestLRU_ReUnpinMovesToMostRecent(t *testing.T) {
	r := NewLRUReplacer(4)

	r.Unpin(1)
	r.Unpin(2)

	// 1 gets used again: pinned, then unpinned. It is now most recent,
	// so 2 must be the next victim.
	r.Pin(1)
	r.Unpin(1)

	got, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, storage.FrameID(2), got)

	got, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, storage.FrameID(1), got)
}

func TestLRU_CapacityIsRespected(t *testing.T) {
	r := NewLRUReplacer(3)

	for f := storage.FrameID(0); f < 10; f++ {
		r.Unpin(f)
	}
	require.Equal(t, 3, r.Size())
}

func TestClock_BasicEviction(t *testing.T) {
	r := NewClockReplacer(4)

	r.Unpin(0)
	r.Unpin(1)
	r.Unpin(2)
	require.Equal(t, 3, r.Size())

	seen := make(map[storage.FrameID]bool)
	for i := 0; i < 3; i++ {
		f, ok := r.Victim()
		require.True(t, ok)
		require.False(t, seen[f])
		seen[f] = true
	}

	_, ok := r.Victim()
	require.False(t, ok)
}

func TestClock_PinPreventsEviction(t *testing.T) {
	r := NewClockReplacer(2)

	r.Unpin(0)
	r.Unpin(1)
	r.Pin(0)

	f, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, storage.FrameID(1), f)

	_, ok = r.Victim()
	require.False(t, ok)
}

func TestClock_OutOfRangeFramesAreIgnored(t *testing.T) {
	r := NewClockReplacer(2)

	r.Unpin(-1)
	r.Unpin(5)
	require.Equal(t, 0, r.Size())
}
