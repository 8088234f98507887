package hpack

import "io"

// HeaderField is a name/value pair, matching the shape the teacher's
// dependency (github.com/bradfitz/http2/hpack) exposed — kept because
// h2/stream.go is written against exactly this shape, not because the
// package itself is reused (see SPEC_FULL.md and DESIGN.md).
type HeaderField struct {
	Name, Value string
	// Sensitive, when true, instructs the encoder to use "never indexed"
	// literal representation and forbids the decoder from inserting the
	// field into the dynamic table — used for header values such as
	// cookies that must never be cached.
	Sensitive bool
}

// Encoder serializes HeaderFields into an HPACK header block, sharing a
// dynamic Table with a peer Decoder (conceptually — each side owns its own
// Table instance that must be kept in lockstep by following the same
// encode/decode operations in the same order, per RFC 7541).
type Encoder struct {
	w       io.Writer
	table   *Table
	huffman bool

	pendingMaxSizeUpdate bool
	pendingMaxSize       uint32
}

// NewEncoder returns an Encoder that writes header blocks to w and indexes
// new entries into its own dynamic table of maxSize.
func NewEncoder(w io.Writer, maxSize uint32) *Encoder {
	return &Encoder{w: w, table: NewTable(maxSize), huffman: true}
}

// SetHuffman toggles Huffman-encoding of literal string values.
func (e *Encoder) SetHuffman(v bool) { e.huffman = v }

// Table exposes the encoder's dynamic table, e.g. so EnableHashIndex can
// be called on it.
func (e *Encoder) Table() *Table { return e.table }

// SetMaxDynamicTableSize requests the encoder shrink (or grow) its table
// and arranges for a table-size-update instruction to be emitted at the
// head of the next WriteField call, per spec §4.3 ("The encoder voluntarily
// shrinks when instructed by local configuration, emitting a size-update
// directive at the head of its next block").
func (e *Encoder) SetMaxDynamicTableSize(v uint32) {
	e.pendingMaxSizeUpdate = true
	e.pendingMaxSize = v
}

// WriteField emits one header field, consulting the static and dynamic
// tables for indexing opportunities.
func (e *Encoder) WriteField(f HeaderField) error {
	var buf []byte
	if e.pendingMaxSizeUpdate {
		buf = appendInt(buf, 0x20, 5, uint64(e.pendingMaxSize))
		e.table.SetMaxSize(e.pendingMaxSize)
		e.pendingMaxSizeUpdate = false
	}

	if !f.Sensitive {
		for i, se := range staticTable {
			if se.name == f.Name && se.value == f.Value {
				buf = appendInt(buf, 0x80, 7, uint64(i+1))
				_, err := e.w.Write(buf)
				return err
			}
		}
	}

	res := e.table.Lookup([]byte(f.Name), []byte(f.Value))
	if !f.Sensitive && res.Match == MatchExact {
		combinedIdx := res.Index + uint64(len(staticTable))
		buf = appendInt(buf, 0x80, 7, combinedIdx)
		_, err := e.w.Write(buf)
		return err
	}

	nameIdx := uint64(0)
	if sidx, ok := staticNameIndex[f.Name]; ok {
		nameIdx = sidx
	} else if nr := e.table.Lookup([]byte(f.Name), nil); nr.Match != MatchNone {
		nameIdx = nr.Index + uint64(len(staticTable))
	}

	var prefixByte byte
	var prefixBits int
	shouldIndex := !f.Sensitive
	switch {
	case f.Sensitive:
		prefixByte, prefixBits = 0x10, 4
	case shouldIndex:
		prefixByte, prefixBits = 0x40, 6
	default:
		prefixByte, prefixBits = 0x00, 4
	}

	if nameIdx != 0 {
		buf = appendInt(buf, prefixByte, prefixBits, nameIdx)
	} else {
		buf = append(buf, prefixByte)
		buf = appendString(buf, []byte(f.Name), e.huffman)
	}
	buf = appendString(buf, []byte(f.Value), e.huffman)

	if shouldIndex {
		e.table.Insert([]byte(f.Name), []byte(f.Value))
	}

	_, err := e.w.Write(buf)
	return err
}
