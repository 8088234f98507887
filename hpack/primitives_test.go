package hpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 10, 30, 31, 32, 127, 128, 1000, 1 << 20, 1 << 40, (1 << 62) - 1}
	for prefixBits := 1; prefixBits <= 8; prefixBits++ {
		for _, n := range values {
			buf := appendInt(nil, 0, prefixBits, n)
			got, consumed, err := decodeInt(buf, prefixBits)
			require.NoError(t, err, "prefix=%d n=%d", prefixBits, n)
			require.Equal(t, n, got, "prefix=%d n=%d", prefixBits, n)
			require.Equal(t, len(buf), consumed)
		}
	}
}

func TestIntegerTruncated(t *testing.T) {
	buf := appendInt(nil, 0, 5, 1000)
	_, _, err := decodeInt(buf[:len(buf)-1], 5)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestStringRoundTripPlain(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello world"),
		[]byte(":method"),
		make([]byte, 1000),
	}
	for _, s := range cases {
		buf := appendString(nil, s, false)
		got, consumed, err := decodeString(buf, nil)
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, len(buf), consumed)
	}
}

func TestStringRoundTripHuffman(t *testing.T) {
	cases := [][]byte{
		[]byte("www.example.com"),
		[]byte("no-cache"),
		[]byte("custom-key"),
		[]byte("custom-value"),
		[]byte("GET"),
	}
	for _, s := range cases {
		buf := appendString(nil, s, true)
		got, consumed, err := decodeString(buf, nil)
		require.NoError(t, err)
		require.Equal(t, s, got, "huffman round trip of %q", s)
		require.Equal(t, len(buf), consumed)
	}
}
