package h2

// SettingID names an HTTP/2 SETTINGS parameter (spec §3: "a settings pair
// covering at least HEADER_TABLE_SIZE, ENABLE_PUSH, MAX_CONCURRENT_STREAMS,
// INITIAL_WINDOW_SIZE, MAX_FRAME_SIZE, MAX_HEADER_LIST_SIZE").
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Setting is one SETTINGS parameter/value pair.
type Setting struct {
	ID  SettingID
	Val uint32
}

const (
	initialMaxFrameSize    = 16384
	maxAllowedMaxFrameSize = 1<<24 - 1
	defaultHeaderTableSize = 4096
)

// SettingsPair is the "settings pair (local, peer)" named in spec §3.
type SettingsPair struct {
	Local, Peer Settings
}

// Settings bundles the recognized parameters with their protocol defaults.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32 // 0 means unbounded, per protocol
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // 0 means unbounded, per protocol
}

// DefaultSettings returns the protocol's initial values before any
// SETTINGS frame has been exchanged.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      defaultHeaderTableSize,
		EnablePush:           true,
		MaxConcurrentStreams: 0,
		InitialWindowSize:    65535,
		MaxFrameSize:         initialMaxFrameSize,
		MaxHeaderListSize:    0,
	}
}

// Apply validates and folds one Setting into s, returning a ConnectionError
// for out-of-range values per the protocol (spec §3, §4.1).
func (s *Settings) Apply(set Setting) error {
	switch set.ID {
	case SettingHeaderTableSize:
		s.HeaderTableSize = set.Val
	case SettingEnablePush:
		if set.Val > 1 {
			return ConnectionError{Code: ErrCodeProtocol, Msg: "invalid ENABLE_PUSH value"}
		}
		s.EnablePush = set.Val == 1
	case SettingMaxConcurrentStreams:
		s.MaxConcurrentStreams = set.Val
	case SettingInitialWindowSize:
		if set.Val > 1<<31-1 {
			return ConnectionError{Code: ErrCodeFlowControl, Msg: "INITIAL_WINDOW_SIZE too large"}
		}
		s.InitialWindowSize = set.Val
	case SettingMaxFrameSize:
		if set.Val < initialMaxFrameSize || set.Val > maxAllowedMaxFrameSize {
			return ConnectionError{Code: ErrCodeProtocol, Msg: "MAX_FRAME_SIZE out of range"}
		}
		s.MaxFrameSize = set.Val
	case SettingMaxHeaderListSize:
		s.MaxHeaderListSize = set.Val
		// Unknown settings are ignored per RFC 7540 §6.5.2.
	}
	return nil
}
