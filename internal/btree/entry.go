package btree

// KeyType is the key type supported by this index. Keys are stored as
// fixed-width little-endian values inside node pages.
type KeyType = int64

// Comparator defines a total order over keys: negative when a < b, zero when
// equal, positive when a > b. The tree assumes nothing beyond transitivity
// and antisymmetry.
type Comparator func(a, b KeyType) int

// DefaultComparator orders keys numerically.
func DefaultComparator(a, b KeyType) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
