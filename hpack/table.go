package hpack

// entryOverhead is the fixed per-entry accounting overhead defined by
// HPACK (RFC 7541 §4.1): "the size of an entry is the sum of its name's
// length in octets, its value's length in octets, and 32."
const entryOverhead = 32

// MatchKind classifies a Table lookup result.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchName
	MatchExact
)

// LookupResult is the {match, index} pair spec §4.3 describes.
type LookupResult struct {
	Match MatchKind
	Index uint64 // 1-based dynamic-table index (1 = newest), meaningful iff Match != MatchNone
}

// entry is one dynamic-table slot: name/value byte ranges into the shared
// ring buffer, an absolute insertion index, a storage offset, and a
// refcount (spec §3: "HPACK dynamic-table entry ... refcount"). Refcounts
// let an encoder hold a reference to an entry across a write in flight
// without it being evicted mid-use.
type entry struct {
	nameOff, nameLen   int
	valueOff, valueLen int
	absIndex           uint64
	refs               int32
}

func (e *entry) size() int { return e.nameLen + e.valueLen + entryOverhead }

// Table is the bounded ring-buffer dynamic table described in spec §4.3:
// a fixed byte buffer with head/tail offsets, a parallel fixed-size entry
// array with insert/evict cursors. It is shared conceptually with the HTTP
// peer — one Table backs both the local Encoder and Decoder for a
// connection, per spec §3 ("HPACK dynamic table ... used concurrently by
// encoder and decoder"); "concurrently" here means "both roles touch it in
// the course of one connection's single-threaded event loop", not
// multi-goroutine access — see spec §5.
type Table struct {
	buf        []byte // ring storage for name/value bytes
	head, tail int    // buf offsets: bytes live in [tail, head) mod len(buf)
	used       int    // bytes currently occupied in buf

	entries    []entry // ring of live entries
	entHead    int     // next insert position in entries
	entTail    int     // oldest live entry position
	entCount   int
	nextAbs    uint64 // next absolute insertion index to assign

	maxSize uint32 // the advertised max size entries must fit within
	curSize int    // sum of entry.size() over live entries

	hashIdx *hashIndex // optional, see hashindex.go
}

// NewTable allocates a Table sized for maxSize bytes of entries plus a
// generous per-entry overhead estimate for the parallel entry array, per
// spec §4.3 ("a fixed byte buffer of size max_size + 32*max_entries_estimate").
func NewTable(maxSize uint32) *Table {
	// A real header is rarely shorter than ~4 bytes name + overhead, so
	// max_entries_estimate = maxSize/entryOverhead is a safe upper bound on
	// how many entries could ever be live simultaneously.
	maxEntries := int(maxSize)/entryOverhead + 1
	return &Table{
		buf:     make([]byte, int(maxSize)+entryOverhead*maxEntries),
		entries: make([]entry, maxEntries),
		maxSize: maxSize,
		nextAbs: 1,
	}
}

// EnableHashIndex turns on the optional (name_crc, value_crc) hash index
// spec §4.3 calls out as something callers may wrap the table with to
// amortize the otherwise-linear Lookup scan.
func (t *Table) EnableHashIndex() {
	t.hashIdx = newHashIndex()
	for i := 0; i < t.entCount; i++ {
		e := &t.entries[(t.entTail+i)%len(t.entries)]
		name, value := t.entryBytes(e)
		t.hashIdx.insert(name, value, e.absIndex)
	}
}

func (t *Table) entryBytes(e *entry) (name, value []byte) {
	name = ringSlice(t.buf, e.nameOff, e.nameLen)
	value = ringSlice(t.buf, e.valueOff, e.valueLen)
	return
}

func ringSlice(buf []byte, off, length int) []byte {
	if length == 0 {
		return nil
	}
	if off+length <= len(buf) {
		return buf[off : off+length]
	}
	out := make([]byte, length)
	n := copy(out, buf[off:])
	copy(out[n:], buf[:length-n])
	return out
}

// Size reports the current occupied accounted size.
func (t *Table) Size() int { return t.curSize }

// MaxSize reports the advertised max size.
func (t *Table) MaxSize() uint32 { return t.maxSize }

// SetMaxSize implements the table-size-update instruction (spec §4.3,
// §3 invariant: "on max-size reduction, oldest entries evict until
// compliant before any further insertion"). Growing is also handled here
// (decoder side per peer instruction, or encoder side per local config).
func (t *Table) SetMaxSize(newMax uint32) {
	if n := int(newMax)/entryOverhead + 1; n > len(t.entries) {
		// Reallocate for the larger bound, keeping live entries in order.
		grown := NewTable(newMax)
		grown.nextAbs = t.nextAbs - uint64(t.entCount)
		for i := t.entCount - 1; i >= 0; i-- {
			e, _ := t.entryAt(i)
			name, value := t.entryBytes(e)
			grown.Insert(name, value)
			newest, _ := grown.entryAt(0)
			newest.refs = e.refs
		}
		grown.hashIdx = t.hashIdx
		*t = *grown
	}
	t.maxSize = newMax
	for t.curSize > int(t.maxSize) && t.entCount > 0 {
		t.evictOldest()
	}
}

// Insert adds a name/value pair, evicting from the tail until it fits. If
// the entry alone exceeds maxSize, the table is cleared and Insert returns
// false (spec §4.3: "the table is cleared and the entry is rejected").
func (t *Table) Insert(name, value []byte) bool {
	need := len(name) + len(value) + entryOverhead
	if need > int(t.maxSize) {
		t.clear()
		return false
	}
	for t.curSize+need > int(t.maxSize) && t.entCount > 0 {
		t.evictOldest()
	}
	nameOff, nameLen := t.append(name)
	valueOff, valueLen := t.append(value)
	e := entry{
		nameOff: nameOff, nameLen: nameLen,
		valueOff: valueOff, valueLen: valueLen,
		absIndex: t.nextAbs,
	}
	t.nextAbs++
	idx := t.entHead
	t.entries[idx] = e
	t.entHead = (t.entHead + 1) % len(t.entries)
	t.entCount++
	t.curSize += need
	if t.hashIdx != nil {
		t.hashIdx.insert(name, value, e.absIndex)
	}
	return true
}

func (t *Table) append(b []byte) (off, length int) {
	off = t.head
	for _, c := range b {
		t.buf[t.head] = c
		t.head = (t.head + 1) % len(t.buf)
	}
	t.used += len(b)
	return off, len(b)
}

func (t *Table) evictOldest() {
	e := &t.entries[t.entTail]
	t.curSize -= e.size()
	t.used -= e.nameLen + e.valueLen
	t.tail = (e.nameOff + e.nameLen + e.valueLen) % len(t.buf)
	t.entTail = (t.entTail + 1) % len(t.entries)
	t.entCount--
}

func (t *Table) clear() {
	t.entCount = 0
	t.entHead = 0
	t.entTail = 0
	t.curSize = 0
	t.used = 0
	t.head = 0
	t.tail = 0
	if t.hashIdx != nil {
		t.hashIdx.clear()
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.entCount }

// entryAt returns the live entry holding relative position i (0 = most
// recently inserted, matching HPACK's dynamic-table indexing where index 1
// is the newest entry).
func (t *Table) entryAt(i int) (*entry, bool) {
	if i < 0 || i >= t.entCount {
		return nil, false
	}
	pos := (t.entHead - 1 - i + len(t.entries)) % len(t.entries)
	return &t.entries[pos], true
}

// At returns the name/value at dynamic-table relative index i (1-based per
// HPACK convention: i==1 is the most recently inserted entry).
func (t *Table) At(i uint64) (name, value []byte, ok bool) {
	if i == 0 {
		return nil, nil, false
	}
	e, ok := t.entryAt(int(i - 1))
	if !ok {
		return nil, nil, false
	}
	name, value = t.entryBytes(e)
	return name, value, true
}

// Lookup scans for name (and, if value is non-nil, name+value) per spec
// §4.3: "Lookup scans the entry array linearly" unless a hash index has
// been enabled via EnableHashIndex, in which case the hash index serves
// the lookup in expected O(1).
func (t *Table) Lookup(name, value []byte) LookupResult {
	if t.hashIdx != nil {
		if idx, kind, ok := t.hashIdx.lookup(name, value, t); ok {
			return LookupResult{Match: kind, Index: idx}
		}
		return LookupResult{Match: MatchNone}
	}
	nameOnly := LookupResult{Match: MatchNone}
	for i := 0; i < t.entCount; i++ {
		e, _ := t.entryAt(i)
		n, v := t.entryBytes(e)
		if string(n) != string(name) {
			continue
		}
		if value != nil && string(v) == string(value) {
			return LookupResult{Match: MatchExact, Index: uint64(i + 1)}
		}
		if nameOnly.Match == MatchNone {
			nameOnly = LookupResult{Match: MatchName, Index: uint64(i + 1)}
		}
	}
	return nameOnly
}

// Ref and Unref maintain the per-entry refcount from spec §3, letting an
// encoder mark an entry as in use across an in-flight write. Eviction does
// not consult the count: evictOldest removes the oldest entry on size
// pressure whatever its refs.
func (t *Table) Ref(i uint64) {
	if e, ok := t.entryAt(int(i - 1)); ok {
		e.refs++
	}
}

func (t *Table) Unref(i uint64) {
	if e, ok := t.entryAt(int(i - 1)); ok && e.refs > 0 {
		e.refs--
	}
}
