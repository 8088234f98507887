package hpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableSizeInvariant(t *testing.T) {
	tbl := NewTable(200)
	for i := 0; i < 50; i++ {
		tbl.Insert([]byte("name"), []byte("a-fairly-long-value-to-force-eviction"))
		require.LessOrEqual(t, tbl.Size(), int(tbl.MaxSize()))
	}
}

func TestTableSizeUpdateEvicts(t *testing.T) {
	tbl := NewTable(1000)
	tbl.Insert([]byte("a"), []byte("1"))
	tbl.Insert([]byte("b"), []byte("2"))
	require.Equal(t, 2, tbl.Len())
	tbl.SetMaxSize(40) // smaller than two entries' accounted size
	require.LessOrEqual(t, tbl.Size(), 40)
}

func TestTableLookupExactAndName(t *testing.T) {
	tbl := NewTable(4096)
	tbl.Insert([]byte("x-custom"), []byte("v1"))
	res := tbl.Lookup([]byte("x-custom"), []byte("v1"))
	require.Equal(t, MatchExact, res.Match)
	res = tbl.Lookup([]byte("x-custom"), []byte("v2"))
	require.Equal(t, MatchName, res.Match)
	res = tbl.Lookup([]byte("nope"), nil)
	require.Equal(t, MatchNone, res.Match)
}

func TestTableEntryTooLargeIsRejectedAndClears(t *testing.T) {
	tbl := NewTable(10)
	tbl.Insert([]byte("a"), []byte("b")) // accounted size 1+1+32=34 > maxSize 10
	require.Equal(t, 0, tbl.Len())
}

func TestHashIndexAgreesWithLinearScan(t *testing.T) {
	tbl := NewTable(4096)
	tbl.EnableHashIndex()
	tbl.Insert([]byte("alpha"), []byte("1"))
	tbl.Insert([]byte("beta"), []byte("2"))
	res := tbl.Lookup([]byte("beta"), []byte("2"))
	require.Equal(t, MatchExact, res.Match)
	res = tbl.Lookup([]byte("beta"), []byte("nope"))
	require.Equal(t, MatchName, res.Match)
}
