package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripDataSettingsPing(t *testing.T) {
	cases := []Frame{
		{
			Header: FrameHeader{Type: FrameData, StreamID: 3},
			Data:   []byte("hello"),
			EndStream: true,
		},
		{
			Header:   FrameHeader{Type: FrameSettings},
			Settings: []Setting{{ID: SettingInitialWindowSize, Val: 65535}, {ID: SettingMaxFrameSize, Val: 16384}},
		},
		{
			Header:   FrameHeader{Type: FramePing},
			PingData: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			Header:          FrameHeader{Type: FrameGoAway},
			LastStreamID:    17,
			ErrCode:         ErrCodeProtocol,
			DebugData:       []byte("bye"),
		},
		{
			Header:          FrameHeader{Type: FrameWindowUpdate, StreamID: 5},
			WindowIncrement: 1000,
		},
		{
			Header: FrameHeader{Type: FrameRSTStream, StreamID: 9},
			ErrCode: ErrCodeCancel,
		},
	}

	for _, f := range cases {
		wire := f.Serialize()
		got, err := ParseFrame(wire)
		require.NoError(t, err)
		require.Equal(t, f.Header.Type, got.Header.Type)
		require.Equal(t, f.Header.StreamID, got.Header.StreamID)
		switch f.Header.Type {
		case FrameData:
			require.Equal(t, f.Data, got.Data)
			require.True(t, got.EndStream)
		case FrameSettings:
			require.Equal(t, f.Settings, got.Settings)
		case FramePing:
			require.Equal(t, f.PingData, got.PingData)
		case FrameGoAway:
			require.Equal(t, f.LastStreamID, got.LastStreamID)
			require.Equal(t, f.ErrCode, got.ErrCode)
			require.Equal(t, f.DebugData, got.DebugData)
		case FrameWindowUpdate:
			require.Equal(t, f.WindowIncrement, got.WindowIncrement)
		case FrameRSTStream:
			require.Equal(t, f.ErrCode, got.ErrCode)
		}
	}
}

func TestFrameHeadersWithPriorityRoundTrip(t *testing.T) {
	f := Frame{
		Header:              FrameHeader{Type: FrameHeaders, StreamID: 7},
		HasPriority:         true,
		Priority:            PriorityParam{StreamDep: 3, Exclusive: true, Weight: 42},
		HeaderBlockFragment: []byte{0x82, 0x84},
		EndHeaders:          true,
		EndStream:           true,
	}
	wire := f.Serialize()
	got, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, got.HasPriority)
	require.Equal(t, f.Priority, got.Priority)
	require.Equal(t, f.HeaderBlockFragment, got.HeaderBlockFragment)
	require.True(t, got.EndHeaders)
	require.True(t, got.EndStream)
}

func TestParseFrameRejectsShortPayload(t *testing.T) {
	hdr := FrameHeader{Length: 10, Type: FrameData, StreamID: 1}
	buf := hdr.appendTo(nil)
	_, err := ParseFrame(buf) // no payload bytes appended
	require.Error(t, err)
}

func TestParseSettingsFrameRejectsBadLength(t *testing.T) {
	f := Frame{Header: FrameHeader{Type: FrameSettings}}
	_, err := parseSettingsFrame(f, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseUnknownFrameTypeIgnored(t *testing.T) {
	hdr := FrameHeader{Length: 3, Type: FrameType(0xee), StreamID: 0}
	buf := hdr.appendTo(nil)
	buf = append(buf, 1, 2, 3)
	got, err := ParseFrame(buf)
	require.NoError(t, err)
	require.Equal(t, FrameType(0xee), got.Header.Type)
}
