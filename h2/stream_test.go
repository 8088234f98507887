package h2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecore/h2quic/corecfg"
	"github.com/edgecore/h2quic/internal/xlog"
)

func TestStateMachineRejectsDataBeforeHeaders(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))
	f := Frame{Header: FrameHeader{Type: FrameData, StreamID: 3}, Data: []byte("x")}
	err := s.HandleReadable(f.Serialize())
	require.NoError(t, err) // dispatch errors are handled internally, not surfaced
	_, hasStream := s.streams[3]
	require.False(t, hasStream)
}

func TestTrailerHandlingAppendsNotReplaces(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))

	enc := newTestEncoder(t)
	reqBlock := enc.encode(t, []HeaderFieldLike{
		{":method", "POST"}, {":scheme", "https"}, {":authority", "example.com"}, {":path", "/x"},
		{"content-length", "0"},
	})
	hf := Frame{Header: FrameHeader{Type: FrameHeaders, StreamID: 1}, HeaderBlockFragment: reqBlock, EndHeaders: true}
	require.NoError(t, s.HandleReadable(hf.Serialize()))

	st := s.streams[1]
	require.NotNil(t, st)
	st.ArmTrailers()

	trailerBlock := enc.encode(t, []HeaderFieldLike{{"x-trailer", "v"}})
	tf := Frame{Header: FrameHeader{Type: FrameHeaders, StreamID: 1}, HeaderBlockFragment: trailerBlock, EndHeaders: true, EndStream: true}
	require.NoError(t, s.HandleReadable(tf.Serialize()))

	require.Equal(t, "POST", st.reqHeader.Method) // primary headers untouched
	require.True(t, st.recvEndStream)
}

func TestFlowControlNeverGoesNegativeAcrossInterleaving(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))

	enc := newTestEncoder(t)
	block := enc.encode(t, []HeaderFieldLike{
		{":method", "GET"}, {":scheme", "https"}, {":authority", "example.com"}, {":path", "/"},
	})
	hf := Frame{Header: FrameHeader{Type: FrameHeaders, StreamID: 1}, HeaderBlockFragment: block, EndHeaders: true}
	require.NoError(t, s.HandleReadable(hf.Serialize()))
	st := s.streams[1]

	chunk := bytes.Repeat([]byte{0x41}, 8000)
	for i := 0; i < 5; i++ {
		df := Frame{Header: FrameHeader{Type: FrameData, StreamID: 1}, Data: chunk}
		require.NoError(t, s.HandleReadable(df.Serialize()))
		require.GreaterOrEqual(t, st.LocalWindow(), int32(0))
		require.GreaterOrEqual(t, s.connLocalWindow.Available(), int32(0))
	}

	wu := Frame{Header: FrameHeader{Type: FrameWindowUpdate, StreamID: 1}, WindowIncrement: 10000}
	require.NoError(t, s.HandleReadable(wu.Serialize()))
	require.GreaterOrEqual(t, st.PeerWindow(), int32(0))
}

func TestWriteDataSlicesToPeerWindow(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(2, RoleServer, &buf, corecfg.Default(), xlog.New(nil, 2), nil)
	require.NoError(t, s.Start())
	st := s.OpenStream()
	st.peerWindow = newFlowWindow(10)
	s.connPeerWindow = newFlowWindow(1000)

	payload := bytes.Repeat([]byte{1}, 100)
	n, err := st.WriteData(payload, false)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, int32(0), st.PeerWindow())
}
