// Package h2 implements the HTTP/2 session/stream engine from spec §4.1
// and §4.2: frame parsing and dispatch, the per-connection and per-stream
// state machines, flow control, and the write scheduler. It is grounded on
// the teacher (baranov1ch-http2, an early golang.org/x/net/http2 lineage)
// generalized from its single flat serverConn into the layered
// session/stream design spec §2 and §9 call for.
package h2

import (
	"encoding/binary"
	"fmt"
)

// ClientPreface is the fixed 24-octet string a client sends at the start
// of an HTTP/2 connection (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// FrameType tags the kind of an HTTP/2 frame (spec §3 "Frame").
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	names := [...]string{"DATA", "HEADERS", "PRIORITY", "RST_STREAM", "SETTINGS",
		"PUSH_PROMISE", "PING", "GOAWAY", "WINDOW_UPDATE", "CONTINUATION"}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("UNKNOWN(%#x)", uint8(t))
}

// Flags is the 8-bit flags field of a frame header.
type Flags uint8

const (
	FlagEndStream  Flags = 0x1 // DATA, HEADERS
	FlagAck        Flags = 0x1 // SETTINGS, PING
	FlagEndHeaders Flags = 0x4 // HEADERS, PUSH_PROMISE, CONTINUATION
	FlagPadded     Flags = 0x8 // DATA, HEADERS, PUSH_PROMISE
	FlagPriority   Flags = 0x20 // HEADERS
)

func (f Flags) Has(v Flags) bool { return f&v != 0 }

// frameHeaderLen is the fixed 9-octet frame header size (spec §4.1 "parse 9
// octets").
const frameHeaderLen = 9

// FrameHeader is the common 9-octet prefix of every frame.
type FrameHeader struct {
	Length   uint32 // 24 bits on the wire
	Type     FrameType
	Flags    Flags
	StreamID uint32 // top bit reserved and masked off
}

func (h FrameHeader) appendTo(buf []byte) []byte {
	buf = append(buf, byte(h.Length>>16), byte(h.Length>>8), byte(h.Length))
	buf = append(buf, byte(h.Type), byte(h.Flags))
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], h.StreamID&0x7fffffff)
	return append(buf, sid[:]...)
}

func parseFrameHeader(p []byte) (FrameHeader, error) {
	if len(p) < frameHeaderLen {
		return FrameHeader{}, fmt.Errorf("h2: short frame header (%d bytes)", len(p))
	}
	length := uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	return FrameHeader{
		Length:   length,
		Type:     FrameType(p[3]),
		Flags:    Flags(p[4]),
		StreamID: binary.BigEndian.Uint32(p[5:9]) & 0x7fffffff,
	}, nil
}

// Frame is a fully parsed frame: header plus a typed payload view. Rather
// than one interface-per-type hierarchy (the teacher's *HeadersFrame,
// *DataFrame, ... concrete structs implementing a Frame interface), SPEC_FULL
// uses one tagged struct so dispatch (h2/session.go) can switch on
// Header.Type without a type-assertion per frame, matching the "tagged
// record" shape spec §3 specifies directly.
type Frame struct {
	Header FrameHeader

	// Populated according to Header.Type; zero value otherwise.
	Data                []byte // DATA
	HeaderBlockFragment []byte // HEADERS, PUSH_PROMISE, CONTINUATION
	Padded              bool
	PadLength           uint8
	EndStream           bool // DATA, HEADERS
	EndHeaders          bool // HEADERS, PUSH_PROMISE, CONTINUATION
	Priority            PriorityParam
	HasPriority         bool // HEADERS carried priority fields
	ErrCode             ErrCode
	LastStreamID        uint32 // GOAWAY
	DebugData           []byte // GOAWAY
	WindowIncrement     uint32 // WINDOW_UPDATE
	PingData            [8]byte
	PingAck             bool
	Settings            []Setting
	SettingsAck         bool
	PromisedStreamID    uint32 // PUSH_PROMISE
}

// PriorityParam is the weight/dependency fields carried by PRIORITY frames
// and optionally by HEADERS (spec §3 Stream "priority node").
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8 // encoded value; true weight is Weight+1, range [1,256]
}

// ParseFrame parses one full frame (header already validated against
// MAX_FRAME_SIZE by the caller) out of buf, which must contain exactly
// Header.Length bytes of payload after the 9-octet header.
func ParseFrame(buf []byte) (Frame, error) {
	hdr, err := parseFrameHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	payload := buf[frameHeaderLen:]
	if uint32(len(payload)) < hdr.Length {
		return Frame{}, fmt.Errorf("h2: short payload: have %d want %d", len(payload), hdr.Length)
	}
	payload = payload[:hdr.Length]
	f := Frame{Header: hdr}

	switch hdr.Type {
	case FrameData:
		return parseDataFrame(f, payload)
	case FrameHeaders:
		return parseHeadersFrame(f, payload)
	case FramePriority:
		return parsePriorityFrame(f, payload)
	case FrameRSTStream:
		return parseRSTStreamFrame(f, payload)
	case FrameSettings:
		return parseSettingsFrame(f, payload)
	case FramePushPromise:
		return parsePushPromiseFrame(f, payload)
	case FramePing:
		return parsePingFrame(f, payload)
	case FrameGoAway:
		return parseGoAwayFrame(f, payload)
	case FrameWindowUpdate:
		return parseWindowUpdateFrame(f, payload)
	case FrameContinuation:
		f.HeaderBlockFragment = payload
		f.EndHeaders = hdr.Flags.Has(FlagEndHeaders)
		return f, nil
	default:
		// Unknown frame types are ignored per protocol (spec §4.1 dispatch
		// table: "UNKNOWN -- ignored").
		return f, nil
	}
}

func splitPadded(hdr FrameHeader, payload []byte) (data []byte, padLen uint8, err error) {
	if !hdr.Flags.Has(FlagPadded) {
		return payload, 0, nil
	}
	if len(payload) < 1 {
		return nil, 0, fmt.Errorf("h2: padded frame too short")
	}
	padLen = payload[0]
	payload = payload[1:]
	if int(padLen) > len(payload) {
		return nil, 0, fmt.Errorf("h2: pad length exceeds payload")
	}
	return payload[:len(payload)-int(padLen)], padLen, nil
}

func parseDataFrame(f Frame, payload []byte) (Frame, error) {
	data, padLen, err := splitPadded(f.Header, payload)
	if err != nil {
		return Frame{}, err
	}
	f.Data = data
	f.PadLength = padLen
	f.Padded = f.Header.Flags.Has(FlagPadded)
	f.EndStream = f.Header.Flags.Has(FlagEndStream)
	return f, nil
}

func parseHeadersFrame(f Frame, payload []byte) (Frame, error) {
	body, padLen, err := splitPadded(f.Header, payload)
	if err != nil {
		return Frame{}, err
	}
	f.Padded = f.Header.Flags.Has(FlagPadded)
	f.PadLength = padLen
	if f.Header.Flags.Has(FlagPriority) {
		if len(body) < 5 {
			return Frame{}, fmt.Errorf("h2: HEADERS priority fields truncated")
		}
		dep := binary.BigEndian.Uint32(body[:4])
		f.Priority = PriorityParam{
			StreamDep: dep & 0x7fffffff,
			Exclusive: dep&0x80000000 != 0,
			Weight:    body[4],
		}
		f.HasPriority = true
		body = body[5:]
	}
	f.HeaderBlockFragment = body
	f.EndStream = f.Header.Flags.Has(FlagEndStream)
	f.EndHeaders = f.Header.Flags.Has(FlagEndHeaders)
	return f, nil
}

func parsePriorityFrame(f Frame, payload []byte) (Frame, error) {
	if len(payload) != 5 {
		return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "PRIORITY payload must be 5 bytes"}
	}
	dep := binary.BigEndian.Uint32(payload[:4])
	f.Priority = PriorityParam{
		StreamDep: dep & 0x7fffffff,
		Exclusive: dep&0x80000000 != 0,
		Weight:    payload[4],
	}
	f.HasPriority = true
	return f, nil
}

func parseRSTStreamFrame(f Frame, payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "RST_STREAM payload must be 4 bytes"}
	}
	f.ErrCode = ErrCode(binary.BigEndian.Uint32(payload))
	return f, nil
}

func parseSettingsFrame(f Frame, payload []byte) (Frame, error) {
	f.SettingsAck = f.Header.Flags.Has(FlagAck)
	if f.SettingsAck {
		if len(payload) != 0 {
			return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "SETTINGS ACK must be empty"}
		}
		return f, nil
	}
	if len(payload)%6 != 0 {
		return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "SETTINGS payload not a multiple of 6"}
	}
	for i := 0; i < len(payload); i += 6 {
		f.Settings = append(f.Settings, Setting{
			ID:  SettingID(binary.BigEndian.Uint16(payload[i : i+2])),
			Val: binary.BigEndian.Uint32(payload[i+2 : i+6]),
		})
	}
	return f, nil
}

func parsePushPromiseFrame(f Frame, payload []byte) (Frame, error) {
	body, padLen, err := splitPadded(f.Header, payload)
	if err != nil {
		return Frame{}, err
	}
	if len(body) < 4 {
		return Frame{}, fmt.Errorf("h2: PUSH_PROMISE truncated")
	}
	f.Padded = f.Header.Flags.Has(FlagPadded)
	f.PadLength = padLen
	f.PromisedStreamID = binary.BigEndian.Uint32(body[:4]) & 0x7fffffff
	f.HeaderBlockFragment = body[4:]
	f.EndHeaders = f.Header.Flags.Has(FlagEndHeaders)
	return f, nil
}

func parsePingFrame(f Frame, payload []byte) (Frame, error) {
	if len(payload) != 8 {
		return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "PING payload must be 8 bytes"}
	}
	copy(f.PingData[:], payload)
	f.PingAck = f.Header.Flags.Has(FlagAck)
	return f, nil
}

func parseGoAwayFrame(f Frame, payload []byte) (Frame, error) {
	if len(payload) < 8 {
		return Frame{}, fmt.Errorf("h2: GOAWAY truncated")
	}
	f.LastStreamID = binary.BigEndian.Uint32(payload[:4]) & 0x7fffffff
	f.ErrCode = ErrCode(binary.BigEndian.Uint32(payload[4:8]))
	f.DebugData = payload[8:]
	return f, nil
}

func parseWindowUpdateFrame(f Frame, payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return Frame{}, ConnectionError{Code: ErrCodeFrameSize, Msg: "WINDOW_UPDATE payload must be 4 bytes"}
	}
	f.WindowIncrement = binary.BigEndian.Uint32(payload) & 0x7fffffff
	return f, nil
}

// Serialize renders f back to wire bytes, including the 9-octet header.
// Callers are responsible for ensuring payload length does not exceed the
// peer's MAX_FRAME_SIZE (spec §3 invariant).
func (f Frame) Serialize() []byte {
	var payload []byte
	switch f.Header.Type {
	case FrameData:
		payload = f.Data
	case FrameHeaders:
		if f.HasPriority {
			var dep [4]byte
			v := f.Priority.StreamDep
			if f.Priority.Exclusive {
				v |= 0x80000000
			}
			binary.BigEndian.PutUint32(dep[:], v)
			payload = append(payload, dep[:]...)
			payload = append(payload, f.Priority.Weight)
		}
		payload = append(payload, f.HeaderBlockFragment...)
	case FramePriority:
		var dep [4]byte
		v := f.Priority.StreamDep
		if f.Priority.Exclusive {
			v |= 0x80000000
		}
		binary.BigEndian.PutUint32(dep[:], v)
		payload = append(dep[:], f.Priority.Weight)
	case FrameRSTStream:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(f.ErrCode))
	case FrameSettings:
		for _, s := range f.Settings {
			var b [6]byte
			binary.BigEndian.PutUint16(b[:2], uint16(s.ID))
			binary.BigEndian.PutUint32(b[2:], s.Val)
			payload = append(payload, b[:]...)
		}
	case FramePushPromise:
		var sid [4]byte
		binary.BigEndian.PutUint32(sid[:], f.PromisedStreamID&0x7fffffff)
		payload = append(sid[:], f.HeaderBlockFragment...)
	case FramePing:
		payload = append(payload, f.PingData[:]...)
	case FrameGoAway:
		var b [8]byte
		binary.BigEndian.PutUint32(b[:4], f.LastStreamID&0x7fffffff)
		binary.BigEndian.PutUint32(b[4:], uint32(f.ErrCode))
		payload = append(b[:], f.DebugData...)
	case FrameWindowUpdate:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, f.WindowIncrement&0x7fffffff)
	case FrameContinuation:
		payload = f.HeaderBlockFragment
	}

	hdr := f.Header
	hdr.Length = uint32(len(payload))
	hdr.Flags = f.computedFlags()
	out := hdr.appendTo(make([]byte, 0, frameHeaderLen+len(payload)))
	return append(out, payload...)
}

// computedFlags reconciles the typed boolean fields (EndStream, EndHeaders,
// SettingsAck, PingAck) back into the wire Flags bitset, so callers can
// build a Frame by setting the typed fields without hand-computing flags.
func (f Frame) computedFlags() Flags {
	fl := f.Header.Flags
	if f.EndStream {
		fl |= FlagEndStream
	}
	if f.EndHeaders {
		fl |= FlagEndHeaders
	}
	if f.SettingsAck || f.PingAck {
		fl |= FlagAck
	}
	if f.HasPriority && f.Header.Type == FrameHeaders {
		fl |= FlagPriority
	}
	return fl
}
