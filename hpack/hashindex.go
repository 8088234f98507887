package hpack

import "github.com/cespare/xxhash/v2"

// hashIndex is the optional (name_crc, value_crc)-keyed index spec §4.3
// suggests wrapping the table with to avoid the linear scan; it uses
// xxhash (an ecosystem hashing library present in the retrieval pack) in
// place of a literal CRC, which is the standard modern substitute for the
// same purpose (fast, well-distributed non-cryptographic hashing).
type hashIndex struct {
	byNameValue map[uint64]uint64 // hash(name,value) -> absolute index of exact match
	byName      map[uint64]uint64 // hash(name) -> absolute index of most recent name-only match
}

func newHashIndex() *hashIndex {
	return &hashIndex{
		byNameValue: make(map[uint64]uint64),
		byName:      make(map[uint64]uint64),
	}
}

func hashNameValue(name, value []byte) uint64 {
	d := xxhash.New()
	d.Write(name)
	d.Write([]byte{0})
	d.Write(value)
	return d.Sum64()
}

func hashName(name []byte) uint64 {
	return xxhash.Sum64(name)
}

func (h *hashIndex) insert(name, value []byte, absIndex uint64) {
	h.byNameValue[hashNameValue(name, value)] = absIndex
	h.byName[hashName(name)] = absIndex
}

func (h *hashIndex) clear() {
	h.byNameValue = make(map[uint64]uint64)
	h.byName = make(map[uint64]uint64)
}

// lookup resolves an exact or name-only match and translates the stored
// absolute index back into the table's current relative indexing, since
// entries shift as older ones are evicted. A stale absolute index (evicted
// since insertion) is treated as a miss.
func (h *hashIndex) lookup(name, value []byte, t *Table) (relIndex uint64, kind MatchKind, ok bool) {
	if value != nil {
		if abs, found := h.byNameValue[hashNameValue(name, value)]; found {
			if rel, ok := t.relativeFromAbs(abs); ok {
				return rel, MatchExact, true
			}
		}
	}
	if abs, found := h.byName[hashName(name)]; found {
		if rel, ok := t.relativeFromAbs(abs); ok {
			return rel, MatchName, true
		}
	}
	return 0, MatchNone, false
}

// relativeFromAbs converts an absolute insertion index into the table's
// current 1-based relative indexing, or reports false if that entry has
// since been evicted.
func (t *Table) relativeFromAbs(abs uint64) (uint64, bool) {
	for i := 0; i < t.entCount; i++ {
		e, _ := t.entryAt(i)
		if e.absIndex == abs {
			return uint64(i + 1), true
		}
	}
	return 0, false
}
