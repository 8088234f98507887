// Package hpack implements HPACK (RFC 7541) header compression: the
// integer and string primitives, Huffman coding, and a bounded ring-buffer
// dynamic table shared (conceptually) with the peer, per spec §4.3. The
// encoder/decoder surface follows the shape the teacher consumed from
// github.com/bradfitz/http2/hpack (HeaderField, NewEncoder, NewDecoder with
// an emit callback, Decoder.Write/Close) but every internal is rebuilt
// around the arena/ring design spec §3 and §9 call for — see
// DESIGN.md for why the teacher's own hpack package is not imported.
package hpack

import "errors"

// ErrIntegerOverflow is returned by decodeInt when the encoded value would
// exceed the representable range (spec §4.3: "fails if the result would
// exceed UINT64_MAX or if input is truncated").
var ErrIntegerOverflow = errors.New("hpack: integer overflow")

// ErrTruncated is returned when input ends before an integer or string
// primitive is fully decoded.
var ErrTruncated = errors.New("hpack: truncated input")

// appendInt appends the HPACK integer representation of n using the low
// prefixBits of the first octet (the first octet's other bits, e.g. the
// Huffman flag or index-type bits, must already be set in prefix).
func appendInt(dst []byte, prefix byte, prefixBits int, n uint64) []byte {
	max := uint64(1<<uint(prefixBits) - 1)
	if n < max {
		return append(dst, prefix|byte(n))
	}
	dst = append(dst, prefix|byte(max))
	n -= max
	for n >= 128 {
		dst = append(dst, byte(n%128)+128)
		n /= 128
	}
	return append(dst, byte(n))
}

// decodeInt decodes an HPACK integer with the given prefix width from p,
// returning the value, the number of consumed bytes, and an error.
func decodeInt(p []byte, prefixBits int) (n uint64, consumed int, err error) {
	if len(p) == 0 {
		return 0, 0, ErrTruncated
	}
	max := uint64(1<<uint(prefixBits) - 1)
	n = uint64(p[0]) & max
	if n < max {
		return n, 1, nil
	}
	var m uint64
	i := 1
	for {
		if i >= len(p) {
			return 0, 0, ErrTruncated
		}
		b := p[i]
		i++
		v := uint64(b & 127)
		if v > (^uint64(0)-n)>>m {
			return 0, 0, ErrIntegerOverflow
		}
		n += v << m
		if b&128 == 0 {
			return n, i, nil
		}
		m += 7
		if m > 63 {
			return 0, 0, ErrIntegerOverflow
		}
	}
}

// appendString appends the HPACK string representation of s: a 1-bit
// Huffman flag, the length as an integer on a 7-bit prefix, then the
// literal or Huffman-encoded bytes.
func appendString(dst []byte, s []byte, huffman bool) []byte {
	if !huffman {
		dst = appendInt(dst, 0, 7, uint64(len(s)))
		return append(dst, s...)
	}
	encLen := huffmanEncodedLen(s)
	dst = appendInt(dst, 0x80, 7, uint64(encLen))
	return appendHuffman(dst, s)
}

// decodeString decodes an HPACK string primitive from p into an
// arena-provided buffer; arena may be nil, in which case a fresh slice is
// allocated (callers that care about allocation reuse should pass a
// bump allocator, per spec §4.3 "the decoder allocates from a
// caller-supplied arena").
func decodeString(p []byte, arena func(int) []byte) (s []byte, consumed int, err error) {
	if len(p) == 0 {
		return nil, 0, ErrTruncated
	}
	huffmanFlag := p[0]&0x80 != 0
	l, n, err := decodeInt(p, 7)
	if err != nil {
		return nil, 0, err
	}
	consumed = n + int(l)
	if consumed > len(p) || int(l) < 0 {
		return nil, 0, ErrTruncated
	}
	raw := p[n:consumed]
	if !huffmanFlag {
		if arena != nil {
			buf := arena(len(raw))
			copy(buf, raw)
			return buf, consumed, nil
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, consumed, nil
	}
	decoded, err := huffmanDecode(raw, arena)
	if err != nil {
		return nil, 0, err
	}
	return decoded, consumed, nil
}
