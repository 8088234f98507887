package hpack

import "fmt"

// DecodingError wraps a lower-level error encountered while decoding a
// header block, mirroring the teacher's approach of surfacing hpack errors
// directly to the caller (sc.hpackDecoder.Write in server.go) rather than
// translating them inline — h2/stream.go is responsible for turning this
// into the right PROTOCOL_ERROR/COMPRESSION_ERROR per spec §7.
type DecodingError struct{ Err error }

func (de DecodingError) Error() string { return fmt.Sprintf("hpack: decoding error: %v", de.Err) }

// Decoder parses an HPACK header block incrementally: Write may be called
// multiple times (once per HEADERS/CONTINUATION fragment) and emits each
// decoded field via emitFunc as soon as it is complete, matching
// github.com/bradfitz/http2/hpack's Decoder shape that the teacher drove
// from processHeaderBlockFragment.
type Decoder struct {
	table     *Table
	emit      func(HeaderField)
	maxTable  uint32 // the peer's advertised max table size ceiling
	buf       []byte // incomplete trailing bytes from a previous Write
	arena     func(int) []byte
	sawUpdate bool // whether a table-size-update has been seen in this block
	sawField  bool // whether a non-update field has been seen in this block
}

// NewDecoder returns a Decoder with its own dynamic table bounded by
// maxTableSize, invoking emitFunc for each decoded field.
func NewDecoder(maxTableSize uint32, emitFunc func(HeaderField)) *Decoder {
	return &Decoder{
		table:    NewTable(maxTableSize),
		emit:     emitFunc,
		maxTable: maxTableSize,
	}
}

// Table exposes the decoder's dynamic table.
func (d *Decoder) Table() *Table { return d.table }

// SetArena installs the caller-supplied bump allocator spec §4.3 calls
// for ("The decoder allocates from a caller-supplied arena").
func (d *Decoder) SetArena(arena func(int) []byte) { d.arena = arena }

// SetMaxTableSize updates the ceiling a peer table-size-update instruction
// may not exceed (spec §4.3: "no update may exceed the peer's advertised
// max").
func (d *Decoder) SetMaxTableSize(v uint32) { d.maxTable = v }

// Write feeds a header-block fragment into the decoder, emitting fields as
// they complete. It returns the number of bytes consumed (always
// len(p) on success, mirroring io.Writer) and an error for malformed input.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	for len(d.buf) > 0 {
		n, err := d.decodeOne(d.buf)
		if err == ErrTruncated {
			break // wait for more bytes (e.g. a CONTINUATION frame)
		}
		if err != nil {
			return len(p), DecodingError{Err: err}
		}
		d.buf = d.buf[n:]
	}
	return len(p), nil
}

// Close signals the end of one header block; any unconsumed bytes are an
// error.
func (d *Decoder) Close() error {
	if len(d.buf) != 0 {
		return DecodingError{Err: ErrTruncated}
	}
	d.sawUpdate = false
	d.sawField = false
	return nil
}

func (d *Decoder) decodeOne(p []byte) (consumed int, err error) {
	first := p[0]
	switch {
	case first&0x80 != 0: // indexed header field
		idx, n, err := decodeInt(p, 7)
		if err != nil {
			return 0, err
		}
		if idx == 0 {
			return 0, fmt.Errorf("hpack: zero index")
		}
		d.sawField = true
		name, value, ok := d.lookupCombined(idx)
		if !ok {
			return 0, fmt.Errorf("hpack: index %d out of range", idx)
		}
		d.emit(HeaderField{Name: name, Value: value})
		return n, nil

	case first&0xC0 == 0x40: // literal with incremental indexing
		return d.decodeLiteral(p, 6, true, false)

	case first&0xF0 == 0x00: // literal without indexing
		return d.decodeLiteral(p, 4, false, false)

	case first&0xF0 == 0x10: // literal never indexed
		return d.decodeLiteral(p, 4, false, true)

	case first&0xE0 == 0x20: // dynamic table size update
		if d.sawField {
			return 0, fmt.Errorf("hpack: table size update after a field")
		}
		v, n, err := decodeInt(p, 5)
		if err != nil {
			return 0, err
		}
		if uint32(v) > d.maxTable {
			return 0, fmt.Errorf("hpack: table size update %d exceeds peer max %d", v, d.maxTable)
		}
		d.table.SetMaxSize(uint32(v))
		d.sawUpdate = true
		return n, nil
	}
	return 0, fmt.Errorf("hpack: invalid first byte %#x", first)
}

func (d *Decoder) decodeLiteral(p []byte, prefixBits int, index, neverIndex bool) (int, error) {
	idx, n, err := decodeInt(p, prefixBits)
	if err != nil {
		return 0, err
	}
	p = p[n:]
	consumed := n
	var name string
	if idx == 0 {
		nb, c, err := decodeString(p, d.arena)
		if err != nil {
			return 0, err
		}
		name = string(nb)
		p = p[c:]
		consumed += c
	} else {
		nm, _, ok := d.lookupCombined(idx)
		if !ok {
			return 0, fmt.Errorf("hpack: index %d out of range", idx)
		}
		name = nm
	}
	vb, c, err := decodeString(p, d.arena)
	if err != nil {
		return 0, err
	}
	consumed += c
	d.sawField = true
	_ = neverIndex
	d.emit(HeaderField{Name: name, Value: string(vb), Sensitive: neverIndex})
	if index {
		d.table.Insert([]byte(name), vb)
	}
	return consumed, nil
}

// lookupCombined resolves an index in the combined static+dynamic address
// space (static occupies 1..len(staticTable); dynamic starts right after).
func (d *Decoder) lookupCombined(idx uint64) (name, value string, ok bool) {
	if idx >= 1 && int(idx) <= len(staticTable) {
		e := staticTable[idx-1]
		return e.name, e.value, true
	}
	dynIdx := idx - uint64(len(staticTable))
	n, v, ok := d.table.At(dynIdx)
	return string(n), string(v), ok
}
