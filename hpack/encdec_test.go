package hpack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 4096)

	var got []HeaderField
	dec := NewDecoder(4096, func(f HeaderField) { got = append(got, f) })

	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/index.html"},
		{Name: "custom-key", Value: "custom-value"},
		{Name: "cookie", Value: "a=b; c=d", Sensitive: true},
	}
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	_, err := dec.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, dec.Close())

	require.Len(t, got, len(fields))
	for i, f := range fields {
		require.Equal(t, f.Name, got[i].Name)
		require.Equal(t, f.Value, got[i].Value)
	}
}

func TestEncodeIndexedRepeatUsesDynamicTable(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 4096)
	require.NoError(t, enc.WriteField(HeaderField{Name: "x-custom", Value: "same-value"}))
	firstLen := buf.Len()
	buf.Reset()
	require.NoError(t, enc.WriteField(HeaderField{Name: "x-custom", Value: "same-value"}))
	secondLen := buf.Len()
	require.Less(t, secondLen, firstLen, "second write should be a short indexed reference")
}

func TestDecoderAcrossMultipleWrites(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 4096)
	require.NoError(t, enc.WriteField(HeaderField{Name: ":method", Value: "POST"}))
	full := buf.Bytes()

	var got []HeaderField
	dec := NewDecoder(4096, func(f HeaderField) { got = append(got, f) })
	mid := len(full) / 2
	if mid == 0 {
		mid = 1
	}
	_, err := dec.Write(full[:mid])
	require.NoError(t, err)
	_, err = dec.Write(full[mid:])
	require.NoError(t, err)
	require.NoError(t, dec.Close())
	require.Len(t, got, 1)
	require.Equal(t, ":method", got[0].Name)
	require.Equal(t, "POST", got[0].Value)
}
