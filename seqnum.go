package raknet

// The wire's reliable/sequence/order/sequence-number indices are
// 24-bit and wrap at 2^24. Comparisons between two such values must
// use modular arithmetic with a half-range window so that a counter
// that has wrapped still compares correctly against one that hasn't
// yet.
const (
	seq24Mod    = 1 << 24
	seq24Window = 1 << 23
)

// seq24Less reports whether a precedes b in modular 24-bit sequence
// space, treating the space as split into two half-ranges around a.
func seq24Less(a, b uint32) bool {
	diff := (b - a) & (seq24Mod - 1)
	return diff != 0 && diff < seq24Window
}
