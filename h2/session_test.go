package h2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecore/h2quic/corecfg"
	"github.com/edgecore/h2quic/hpack"
	"github.com/edgecore/h2quic/internal/xlog"
)

func newTestSession(t *testing.T, role Role) (*Session, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts := corecfg.Default()
	log := xlog.New(nil, 1)
	s := NewSession(1, role, buf, opts, log, nil)
	require.NoError(t, s.Start())
	buf.Reset() // discard the preface/SETTINGS emitted by Start
	return s, buf
}

func TestPrefaceEnforcement(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	err := s.HandleReadable([]byte("GET / HTTP/1.1\r\n\r\n\r\n\r\n\r\n\r\n\r\n"))
	require.Error(t, err)
	_, ok := err.(TransportFatalError)
	require.True(t, ok)
}

func TestSettingsAckRoundTrip(t *testing.T) {
	s, buf := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))
	f := Frame{Header: FrameHeader{Type: FrameSettings}}
	require.NoError(t, s.HandleReadable(f.Serialize()))
	require.NoError(t, s.flush())
	require.True(t, buf.Len() > 0)
	got, err := ParseFrame(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, FrameSettings, got.Header.Type)
	require.True(t, got.SettingsAck)
}

func TestHeadersCreatesStreamAndDispatchesData(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))

	enc := newTestEncoder(t)
	block := enc.encode(t, []HeaderFieldLike{
		{":method", "POST"}, {":scheme", "https"}, {":authority", "example.com"}, {":path", "/x"},
	})
	hf := Frame{
		Header:              FrameHeader{Type: FrameHeaders, StreamID: 1},
		HeaderBlockFragment: block,
		EndHeaders:          true,
	}
	require.NoError(t, s.HandleReadable(hf.Serialize()))

	st := s.streams[1]
	require.NotNil(t, st)
	require.Equal(t, "POST", st.reqHeader.Method)

	df := Frame{Header: FrameHeader{Type: FrameData, StreamID: 1}, Data: []byte("body"), EndStream: true}
	require.NoError(t, s.HandleReadable(df.Serialize()))
	require.Equal(t, StateHalfClosedRemote, st.State())

	got := make([]byte, 4)
	n, err := st.body.Read(got)
	require.NoError(t, err)
	require.Equal(t, "body", string(got[:n]))
}

func TestStreamErrorRateClosesConnection(t *testing.T) {
	s, buf := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))
	for i := 0; i < 20; i++ {
		f := Frame{Header: FrameHeader{Type: FrameRSTStream, StreamID: uint32(i*2 + 1)}, ErrCode: ErrCodeCancel}
		_ = s.HandleReadable(f.Serialize())
		s.recordProtoError()
	}
	require.NoError(t, s.flush())
	require.True(t, s.goAwaySent)
	_ = buf
}

// TestAbusiveWindowUpdateRateClosesConnection exercises the actual
// WINDOW_UPDATE abuse-detection path: many tiny increments pull the
// stream's rolling average below MinAvgWindowUpdate, and CheckTimeouts
// must tear the connection down with GOAWAY(ENHANCE_YOUR_CALM) rather
// than just recording the observation.
func TestAbusiveWindowUpdateRateClosesConnection(t *testing.T) {
	s, _ := newTestSession(t, RoleServer)
	require.NoError(t, s.HandleReadable([]byte(ClientPreface)))

	enc := newTestEncoder(t)
	block := enc.encode(t, []HeaderFieldLike{
		{":method", "GET"}, {":scheme", "https"}, {":authority", "example.com"}, {":path", "/"},
	})
	hf := Frame{Header: FrameHeader{Type: FrameHeaders, StreamID: 1}, HeaderBlockFragment: block, EndHeaders: true}
	require.NoError(t, s.HandleReadable(hf.Serialize()))

	for i := 0; i < 10; i++ {
		wf := Frame{Header: FrameHeader{Type: FrameWindowUpdate, StreamID: 1}, WindowIncrement: 1}
		require.NoError(t, s.HandleReadable(wf.Serialize()))
	}

	s.CheckTimeouts()
	require.True(t, s.goAwaySent)
}

// testEncoder is a tiny hpack-encoding helper for constructing HEADERS
// payloads in tests. Each call gets its own dynamic table (tests only
// exercise literal representations, so table divergence from the session
// under test does not matter).
type testEncoder struct{}

func newTestEncoder(t *testing.T) *testEncoder {
	t.Helper()
	return &testEncoder{}
}

func (e *testEncoder) encode(t *testing.T, fields []HeaderFieldLike) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf, 4096)
	for _, f := range fields {
		require.NoError(t, enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value}))
	}
	return buf.Bytes()
}
