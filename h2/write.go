package h2

import "github.com/edgecore/h2quic/hpack"

func hpackField(hf HeaderFieldLike) hpack.HeaderField {
	return hpack.HeaderField{Name: hf.Name, Value: hf.Value}
}

// OpenStream creates a locally-initiated stream (an outbound request in
// the client role, or a pushed stream in the server role) with the next
// available id of the correct parity (spec §3 "peer-initiated streams
// follow the parity rule of the protocol" — local ids follow the
// complementary parity).
func (s *Session) OpenStream() *Stream {
	id := s.nextLocalID
	s.nextLocalID += 2
	st := newStream(s, id, s.role == RoleClient)
	s.streams[id] = st
	if s.priority != nil {
		s.priority.Reprioritize(id, PriorityParam{Weight: 15})
	}
	if s.metrics != nil {
		s.metrics.StreamsOpened.Inc()
	}
	return st
}

// headerFieldsFor renders h into the wire order pseudo-headers-first,
// regular headers after, satisfying the pseudo-header-ordering invariant
// from the writer's side (spec §3).
func headerFieldsFor(h *Header, isResponse bool) []HeaderFieldLike {
	var out []HeaderFieldLike
	if isResponse {
		out = append(out, HeaderFieldLike{":status", h.Status})
	} else {
		out = append(out, HeaderFieldLike{":method", h.Method})
		out = append(out, HeaderFieldLike{":scheme", h.Scheme})
		out = append(out, HeaderFieldLike{":authority", h.Authority})
		out = append(out, HeaderFieldLike{":path", h.Path})
	}
	for name, values := range h.Fields {
		for _, v := range values {
			out = append(out, HeaderFieldLike{name, v})
		}
	}
	return out
}

// HeaderFieldLike is the name/value pair h2 builds header lists from;
// WriteHeaders converts each one to hpack.HeaderField.
type HeaderFieldLike struct {
	Name, Value string
}

// WriteHeaders encodes h and schedules HEADERS (plus CONTINUATION frames
// as needed to respect the peer's MAX_FRAME_SIZE) for this stream.
func (st *Stream) WriteHeaders(h *Header, endStream bool) error {
	s := st.conn
	s.encoderBuf.Reset()
	fields := headerFieldsFor(h, s.role == RoleServer)
	for _, hf := range fields {
		if hf.Value == "" && (hf.Name == ":authority") {
			continue
		}
		if err := s.encoder.WriteField(hpackField(hf)); err != nil {
			return StreamError{StreamID: st.id, Code: ErrCodeInternal, Msg: err.Error()}
		}
	}
	block := append([]byte(nil), s.encoderBuf.Bytes()...)

	maxFrame := int(s.peerSettings.MaxFrameSize)
	first := true
	for len(block) > 0 || first {
		n := len(block)
		if n > maxFrame {
			n = maxFrame
		}
		chunk := block[:n]
		block = block[n:]
		endHeaders := len(block) == 0
		if first {
			f := Frame{
				Header:              FrameHeader{Type: FrameHeaders, StreamID: st.id},
				HeaderBlockFragment: chunk,
				EndHeaders:          endHeaders,
				EndStream:           endStream && endHeaders,
			}
			if err := s.writeFrame(f); err != nil {
				return err
			}
			first = false
		} else {
			f := Frame{
				Header:              FrameHeader{Type: FrameContinuation, StreamID: st.id},
				HeaderBlockFragment: chunk,
				EndHeaders:          endHeaders,
			}
			if err := s.writeFrame(f); err != nil {
				return err
			}
		}
	}
	st.mu.Lock()
	switch st.state {
	case StateIdle:
		st.state = StateOpen
	case StateReservedLocal:
		st.state = StateReservedLocal
	}
	if endStream && len(block) == 0 {
		st.sendEndStream = true
	}
	st.mu.Unlock()
	if endStream {
		st.maybeClose()
	}
	return nil
}

// WriteData sends up to len(p) body bytes, slicing to the minimum of the
// stream's and connection's peer windows per spec §4.1 ("Flow-limited
// frames ... consult both the connection peer-window and the target
// stream's peer-window and slice payload to the minimum"). It returns the
// number of bytes actually sent; callers must retry the remainder once a
// WINDOW_UPDATE arrives.
func (st *Stream) WriteData(p []byte, endStream bool) (int, error) {
	s := st.conn
	st.mu.Lock()
	avail := st.peerWindow.Available()
	if c := s.connPeerWindow.Available(); c < avail {
		avail = c
	}
	maxFrame := int32(s.peerSettings.MaxFrameSize)
	if avail > maxFrame {
		avail = maxFrame
	}
	if avail <= 0 {
		if len(p) == 0 && endStream {
			avail = 0
		} else {
			st.mu.Unlock()
			return 0, nil
		}
	}
	n := int(avail)
	if n > len(p) {
		n = len(p)
	}
	chunk := p[:n]
	st.peerWindow.take(int32(n))
	st.mu.Unlock()
	s.connPeerWindow.take(int32(n))

	willEnd := endStream && n == len(p)
	f := Frame{
		Header:    FrameHeader{Type: FrameData, StreamID: st.id},
		Data:      chunk,
		EndStream: willEnd,
	}
	if err := s.writeFrame(f); err != nil {
		return n, err
	}
	if willEnd {
		st.mu.Lock()
		st.sendEndStream = true
		if st.recvEndStream {
			st.state = StateClosed
		} else {
			st.state = StateHalfClosedLocal
		}
		st.mu.Unlock()
		st.maybeClose()
	}
	return n, nil
}
