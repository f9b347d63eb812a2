package zone

// Serial is a 32-bit zone version compared per RFC1982, not as a plain
// integer: it wraps, and "newer" depends on which side of the wrap you're
// standing on.
type Serial uint32

// Less reports whether s is strictly older than o under RFC1982 serial
// arithmetic: s < o iff (o - s) mod 2^32 is in the open interval (0, 2^31).
func (s Serial) Less(o Serial) bool {
	diff := int32(o - s)
	return diff > 0
}

// LessOrEqual is Less with equality, used for "serial(live) >= zonefile-serial"
// comparisons.
func (s Serial) LessOrEqual(o Serial) bool {
	return s == o || s.Less(o)
}

func (s Serial) Increment() Serial {
	return s + 1
}

// Key packs a (from, to) serial pair into a 64-bit journal key:
// pack(from, to) = (to << 32) | from. The low 32 bits are the "from"
// serial so that ByFrom can extract them with a plain mask.
func Key(from, to Serial) uint64 {
	return uint64(to)<<32 | uint64(from)
}

// UnpackKey reverses Key.
func UnpackKey(key uint64) (from, to Serial) {
	from = Serial(uint32(key))
	to = Serial(uint32(key >> 32))
	return
}

// KeyPredicate matches journal entries during a fetch: it compares an
// entry's key against a fixed target, returning 0 on a match. Journal.Fetch
// scans entries in ascending key order for the first zero; the predicates
// extract a sub-field of the packed key, so they are not monotonic in
// full-key order and a binary search over them would be wrong.
type KeyPredicate func(key uint64) int

// ByFrom builds a predicate that matches the journal entry whose "from"
// serial equals target, extracting the low 32 bits of the key.
func ByFrom(target Serial) KeyPredicate {
	return func(key uint64) int {
		from := Serial(uint32(key))
		return int(int64(from) - int64(target))
	}
}

// ByTo builds a predicate that matches the journal entry whose "to" serial
// equals target, extracting the high 32 bits of the key.
func ByTo(target Serial) KeyPredicate {
	return func(key uint64) int {
		to := Serial(uint32(key >> 32))
		return int(int64(to) - int64(target))
	}
}
