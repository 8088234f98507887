package h2

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgecore/h2quic/corecfg"
	"github.com/edgecore/h2quic/hpack"
	"github.com/edgecore/h2quic/internal/xlog"
	"github.com/edgecore/h2quic/metrics"
)

// Role distinguishes which side of the connection this Session plays,
// governing preface handling and stream id parity (spec §3 "peer-initiated
// streams follow the parity rule").
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

type shutdownState int

const (
	shutdownNone shutdownState = iota
	shutdownNotInitiated
	shutdownInitiated
	shutdownInProgress
)

// readState tags where the session's read path state machine currently
// is, spec §4.1 "Read path state machine".
type readState int

const (
	readPreface readState = iota
	readFrameHeader
	readPayload
)

// Transport is the narrow byte-stream surface the session writes frames
// to; satisfied by a net.Conn or, for QUIC, a quic.Stream carrying the
// HTTP/2-over-QUIC framing (spec §2 "Transport adapters").
type Transport interface {
	io.Writer
}

// protoErrorSample is one entry in the stream-error-rate abuse-detection
// rolling window (spec §4.1 "Abuse detection").
type protoErrorSample struct{ at time.Time }

// Session is one HTTP/2 connection, spec §3 "Connection" and §4.1.
type Session struct {
	mu sync.Mutex

	id        uint64
	role      Role
	transport Transport
	opts      corecfg.Options
	clock     clockwork.Clock
	log       *xlog.Logger
	metrics   *metrics.Set

	localSettings Settings
	peerSettings  Settings

	connPeerWindow  *flow
	connLocalWindow *flow

	streams      map[uint32]*Stream
	nextLocalID  uint32
	lastPeerID   uint32

	decoder        *hpack.Decoder
	encoderBuf     bytes.Buffer
	encoder        *hpack.Encoder

	headerSink *headerAccumulator

	readBuf              []byte
	state                readState
	continuationStreamID uint32
	curHeader            FrameHeader

	writeBuf       bytes.Buffer
	lastFlush      time.Time
	shutdown       shutdownState
	goAwaySent     bool
	lastStreamSent uint32

	history  *History
	priority *priorityTree

	openedAt time.Time

	protoErrors []protoErrorSample
}

// NewSession constructs a Session ready to Start(). transport is where
// serialized frames are written; the caller is responsible for feeding
// inbound bytes via HandleReadable.
func NewSession(id uint64, role Role, transport Transport, opts corecfg.Options, log *xlog.Logger, m *metrics.Set) *Session {
	clock := clockwork.NewRealClock()
	s := &Session{
		id:              id,
		role:            role,
		transport:       transport,
		opts:            opts,
		clock:           clock,
		log:             log,
		metrics:         m,
		localSettings:   defaultSettingsFromOptions(opts),
		peerSettings:    DefaultSettings(),
		connPeerWindow:  newFlowWindow(65535),
		connLocalWindow: newFlowWindow(int32(initialConnWindow(opts))),
		streams:         make(map[uint32]*Stream),
		history:         NewHistory(),
		openedAt:        clock.Now(),
	}
	if opts.EnablePriorityTree {
		s.priority = newPriorityTree()
	}
	s.decoder = hpack.NewDecoder(opts.HeaderTableSize, func(f hpack.HeaderField) {
		if s.headerSink != nil {
			s.headerSink.onField(f.Name, f.Value)
		}
	})
	s.encoder = hpack.NewEncoder(&s.encoderBuf, opts.HeaderTableSize)
	if role == RoleServer {
		s.nextLocalID = 2
	} else {
		s.nextLocalID = 1
	}
	if m != nil {
		m.ConnectionsOpened.Inc()
	}
	return s
}

func defaultSettingsFromOptions(o corecfg.Options) Settings {
	s := DefaultSettings()
	if o.InitialWindowSize > 0 {
		s.InitialWindowSize = o.InitialWindowSize
	}
	if o.MaxFrameSize > 0 {
		s.MaxFrameSize = o.MaxFrameSize
	}
	if o.MaxHeaderListSize > 0 {
		s.MaxHeaderListSize = o.MaxHeaderListSize
	}
	if o.HeaderTableSize > 0 {
		s.HeaderTableSize = o.HeaderTableSize
	}
	s.MaxConcurrentStreams = o.MaxConcurrentStreamsIn
	return s
}

func initialConnWindow(o corecfg.Options) uint32 {
	if o.InitialWindowSize > 0 {
		return o.InitialWindowSize
	}
	return 65535
}

// decodeHeaderBlock feeds block into the shared decoder, routing emitted
// fields to acc. The session's affinity-thread model (spec §5) guarantees
// no other header block is in flight concurrently, so a single mutable
// sink is safe.
func (s *Session) decodeHeaderBlock(block []byte, acc *headerAccumulator) error {
	s.headerSink = acc
	defer func() { s.headerSink = nil }()
	if _, err := s.decoder.Write(block); err != nil {
		return err
	}
	return s.decoder.Close()
}

// Start emits the connection preface (client) or arms the preface read
// state (server), then sends initial SETTINGS (spec §4.1 "start()").
func (s *Session) Start() error {
	if s.role == RoleClient {
		if _, err := s.transport.Write([]byte(ClientPreface)); err != nil {
			return TransportFatalError{Msg: err.Error()}
		}
		s.state = readFrameHeader
	} else {
		s.state = readPreface
	}
	return s.sendSettings()
}

func (s *Session) sendSettings() error {
	var pairs []Setting
	pairs = append(pairs,
		Setting{ID: SettingHeaderTableSize, Val: s.localSettings.HeaderTableSize},
		Setting{ID: SettingMaxConcurrentStreams, Val: s.localSettings.MaxConcurrentStreams},
		Setting{ID: SettingInitialWindowSize, Val: s.localSettings.InitialWindowSize},
		Setting{ID: SettingMaxFrameSize, Val: s.localSettings.MaxFrameSize},
	)
	if s.localSettings.MaxHeaderListSize > 0 {
		pairs = append(pairs, Setting{ID: SettingMaxHeaderListSize, Val: s.localSettings.MaxHeaderListSize})
	}
	f := Frame{Header: FrameHeader{Type: FrameSettings}, Settings: pairs}
	return s.writeFrame(f)
}

// HandleReadable ingests newly-available bytes from the transport,
// advancing the read-path state machine (spec §4.1 points 1–3) and
// dispatching complete frames. Failures are not returned to the caller in
// the original design ("Return values are not surfaced"); here we do
// return the error so the caller (the goroutine owning the connection) can
// decide how to close, which is the idiomatic Go equivalent of "signalled
// via internal error events".
func (s *Session) HandleReadable(data []byte) error {
	s.readBuf = append(s.readBuf, data...)

	for {
		switch s.state {
		case readPreface:
			if len(s.readBuf) < len(ClientPreface) {
				return nil
			}
			if string(s.readBuf[:len(ClientPreface)]) != ClientPreface {
				return TransportFatalError{Msg: "bad client preface"}
			}
			s.readBuf = s.readBuf[len(ClientPreface):]
			s.state = readFrameHeader

		case readFrameHeader:
			if len(s.readBuf) < frameHeaderLen {
				return nil
			}
			hdr, err := parseFrameHeader(s.readBuf)
			if err != nil {
				return TransportFatalError{Msg: err.Error()}
			}
			if hdr.Length > s.localSettings.MaxFrameSize {
				return s.fatalConn(ConnectionError{Code: ErrCodeFrameSize, Msg: "frame exceeds MAX_FRAME_SIZE"})
			}
			if s.continuationStreamID != 0 && (hdr.Type != FrameContinuation || hdr.StreamID != s.continuationStreamID) {
				return s.fatalConn(ConnectionError{Code: ErrCodeProtocol, Msg: "expected CONTINUATION"})
			}
			s.curHeader = hdr
			s.state = readPayload

		case readPayload:
			total := frameHeaderLen + int(s.curHeader.Length)
			if len(s.readBuf) < total {
				return nil
			}
			frame, err := ParseFrame(s.readBuf[:total])
			s.readBuf = s.readBuf[total:]
			s.state = readFrameHeader
			if err != nil {
				if cerr, ok := err.(ConnectionError); ok {
					return s.fatalConn(cerr)
				}
				return s.fatalConn(ConnectionError{Code: ErrCodeProtocol, Msg: err.Error()})
			}
			if derr := s.dispatch(frame); derr != nil {
				if handled := s.handleDispatchError(derr); handled != nil {
					return handled
				}
			}
		}
	}
}

// handleDispatchError turns a dispatch error into the right frame-level
// action (RST_STREAM vs GOAWAY vs nothing further), per spec §7.
func (s *Session) handleDispatchError(err error) error {
	switch e := err.(type) {
	case StreamError:
		s.recordProtoError()
		s.history.Record("stream.error", e.Error())
		if st := s.streams[e.StreamID]; st != nil {
			st.Close(e.Code)
		}
		_ = s.writeFrame(Frame{Header: FrameHeader{Type: FrameRSTStream, StreamID: e.StreamID}, ErrCode: e.Code})
		if s.metrics != nil {
			s.metrics.StreamErrors.Inc()
		}
		return nil
	case ConnectionError:
		return s.fatalConn(e)
	default:
		return err
	}
}

func (s *Session) fatalConn(ce ConnectionError) error {
	s.history.Record("connection.fatal", ce.Error())
	s.log.CondErrorf(ce, "connection fatal")
	_ = s.writeFrame(Frame{
		Header:       FrameHeader{Type: FrameGoAway},
		LastStreamID: s.lastPeerID,
		ErrCode:      ce.Code,
	})
	if s.metrics != nil {
		s.metrics.GoAwaySent.Inc()
	}
	s.goAwaySent = true
	s.shutdown = shutdownInProgress
	return ce
}

// recordProtoError appends a sample to the abuse-detection window and
// shuts the connection down with ENHANCE_YOUR_CALM if the rate exceeds
// the configured threshold (spec §4.1 "Abuse detection").
func (s *Session) recordProtoError() {
	now := s.clock.Now()
	s.protoErrors = append(s.protoErrors, protoErrorSample{at: now})
	cutoff := now.Add(-10 * time.Second)
	kept := s.protoErrors[:0]
	for _, p := range s.protoErrors {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	s.protoErrors = kept
	rate := float64(len(s.protoErrors)) / 10.0
	if s.opts.StreamErrorRateThreshold > 0 && rate > s.opts.StreamErrorRateThreshold {
		_ = s.fatalConn(ConnectionError{Code: ErrCodeEnhanceYourCalm, Msg: "stream error rate exceeded"})
	}
}

// dispatch routes a parsed frame per spec §4.1's dispatch table.
func (s *Session) dispatch(f Frame) error {
	switch f.Header.Type {
	case FrameSettings:
		return s.onSettings(f)
	case FramePing:
		return s.onPing(f)
	case FrameGoAway:
		return s.onGoAway(f)
	case FrameWindowUpdate:
		if f.Header.StreamID == 0 {
			return s.onConnWindowUpdate(f.WindowIncrement)
		}
		return s.routeToStream(f)
	case FrameHeaders, FrameContinuation, FrameData, FramePriority, FrameRSTStream:
		return s.routeToStream(f)
	case FramePushPromise:
		return s.onPushPromise(f)
	default:
		return nil // UNKNOWN: ignored per protocol
	}
}

func (s *Session) routeToStream(f Frame) error {
	st := s.streams[f.Header.StreamID]
	if st == nil {
		if f.Header.Type != FrameHeaders {
			if f.Header.Type == FramePriority {
				return nil // priority on unknown stream is tolerated
			}
			return StreamError{StreamID: f.Header.StreamID, Code: ErrCodeStreamClosed, Msg: "unknown stream"}
		}
		var err error
		st, err = s.createPeerStream(f.Header.StreamID)
		if err != nil {
			return err
		}
	}
	st.enterReentrant()
	defer st.exitReentrant()
	return st.onFrame(f)
}

// createPeerStream opens a new stream for a peer-initiated HEADERS,
// enforcing the id parity and monotonicity rule spec §3 requires: peer
// stream ids must follow the parity rule (odd for client-initiated,
// even for server-initiated) and be monotonically assigned, matching
// the teacher's processHeaders id%2/maxStreamID guard (server.go).
func (s *Session) createPeerStream(id uint32) (*Stream, error) {
	wantOdd := s.role == RoleServer
	isOdd := id%2 == 1
	if isOdd != wantOdd {
		return nil, ConnectionError{Code: ErrCodeProtocol, Msg: "peer stream id violates parity rule"}
	}
	if id <= s.lastPeerID {
		return nil, ConnectionError{Code: ErrCodeProtocol, Msg: "peer stream id not monotonically increasing"}
	}
	st := newStream(s, id, s.role == RoleClient)
	s.streams[id] = st
	s.lastPeerID = id
	if s.priority != nil {
		s.priority.Reprioritize(id, PriorityParam{Weight: 15})
	}
	if s.metrics != nil {
		s.metrics.StreamsOpened.Inc()
	}
	return st, nil
}

// releaseStream removes a fully-closed stream from the registry (spec §4.2
// "Cleanup": "removes itself from the connection's registry and the
// priority tree").
func (s *Session) releaseStream(id uint32) {
	delete(s.streams, id)
	if s.priority != nil {
		s.priority.Remove(id)
	}
	if s.metrics != nil {
		s.metrics.StreamsClosed.Inc()
	}
	if s.shutdown == shutdownInitiated && len(s.streams) == 0 {
		s.finishShutdown()
	}
}

func (s *Session) onSettings(f Frame) error {
	if f.SettingsAck {
		return nil
	}
	for _, set := range f.Settings {
		if err := s.peerSettings.Apply(set); err != nil {
			return err
		}
	}
	return s.writeFrame(Frame{Header: FrameHeader{Type: FrameSettings, Flags: FlagAck}, SettingsAck: true})
}

func (s *Session) onPing(f Frame) error {
	if f.PingAck {
		return nil
	}
	reply := Frame{Header: FrameHeader{Type: FramePing, Flags: FlagAck}, PingAck: true}
	reply.PingData = f.PingData
	return s.writeFrame(reply)
}

func (s *Session) onGoAway(f Frame) error {
	s.history.Record("connection.goaway_recv", "")
	s.shutdown = shutdownInProgress
	return nil
}

func (s *Session) onConnWindowUpdate(increment uint32) error {
	if increment == 0 {
		return ConnectionError{Code: ErrCodeProtocol, Msg: "zero connection WINDOW_UPDATE"}
	}
	if !s.connPeerWindow.add(int32(increment)) {
		return ConnectionError{Code: ErrCodeFlowControl, Msg: "connection WINDOW_UPDATE overflow"}
	}
	return nil
}

func (s *Session) onPushPromise(f Frame) error {
	if !s.localSettings.EnablePush {
		return ConnectionError{Code: ErrCodeProtocol, Msg: "PUSH_PROMISE with push disabled"}
	}
	st := newStream(s, f.PromisedStreamID, true)
	st.state = StateReservedRemote
	s.streams[f.PromisedStreamID] = st
	return nil
}

// enqueueWindowUpdate serializes and schedules a WINDOW_UPDATE frame for
// either the connection (streamID 0) or a stream.
func (s *Session) enqueueWindowUpdate(streamID uint32, increment uint32) {
	_ = s.writeFrame(Frame{Header: FrameHeader{Type: FrameWindowUpdate, StreamID: streamID}, WindowIncrement: increment})
}

func (s *Session) enqueueRSTStream(streamID uint32, code ErrCode) {
	_ = s.writeFrame(Frame{Header: FrameHeader{Type: FrameRSTStream, StreamID: streamID}, ErrCode: code})
}

// writeFrame serializes f into the write buffer and flushes per the
// write-scheduler thresholds (spec §4.1 "Write scheduler"). Flow-limited
// frames are expected to already have been sliced to the available
// windows by the caller.
func (s *Session) writeFrame(f Frame) error {
	s.writeBuf.Write(f.Serialize())
	return s.maybeFlush()
}

func (s *Session) maybeFlush() error {
	now := s.clock.Now()
	elapsed := now.Sub(s.lastFlush)
	threshold := time.Duration(s.opts.WriteTimeThresholdMs) * time.Millisecond
	if s.writeBuf.Len() == 0 {
		return nil
	}
	if uint32(s.writeBuf.Len()) < s.opts.WriteSizeThreshold && elapsed < threshold {
		return nil
	}
	return s.flush()
}

// flush forces a transport write regardless of the batching thresholds;
// callers needing latency-sensitive delivery (a PING ACK, a GOAWAY) should
// follow up with an explicit Flush.
func (s *Session) Flush() error { return s.flush() }

func (s *Session) flush() error {
	if s.writeBuf.Len() == 0 {
		return nil
	}
	_, err := s.transport.Write(s.writeBuf.Bytes())
	s.writeBuf.Reset()
	s.lastFlush = s.clock.Now()
	return err
}

// Close moves the shutdown state machine forward (spec §4.1 "close()"),
// sending GOAWAY and marking shutdown initiated. It is idempotent: once
// shutdown has begun (an earlier Close, a connection error, or a GOAWAY
// received from the peer) it returns nil without sending anything.
func (s *Session) Close(code ErrCode) error {
	if s.shutdown >= shutdownInitiated {
		return nil
	}
	s.shutdown = shutdownInitiated
	err := s.writeFrame(Frame{Header: FrameHeader{Type: FrameGoAway}, LastStreamID: s.lastPeerID, ErrCode: code})
	if s.metrics != nil {
		s.metrics.GoAwaySent.Inc()
	}
	s.goAwaySent = true
	if len(s.streams) == 0 {
		s.finishShutdown()
	}
	return err
}

func (s *Session) finishShutdown() {
	s.shutdown = shutdownInProgress
	_ = s.flush()
	elapsed := s.clock.Now().Sub(s.openedAt)
	if s.opts.SlowConnectionThreshold > 0 && elapsed > s.opts.SlowConnectionThreshold {
		s.log.Warnf("slow connection: open-to-close %s exceeded threshold %s", elapsed, s.opts.SlowConnectionThreshold)
		if s.metrics != nil {
			s.metrics.SlowConnections.Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.ConnectionsClosed.Inc()
	}
}

// CheckTimeouts evaluates every stream's inactivity and active deadlines,
// handling whatever has expired (spec §4.2 "Timeouts"), and shuts the
// connection down with ENHANCE_YOUR_CALM when a stream's average
// WINDOW_UPDATE increment is below MinAvgWindowUpdate. It checks no
// connection-level deadline (accept-no-activity or active).
func (s *Session) CheckTimeouts() {
	now := s.clock.Now()
	for _, st := range s.streams {
		if err := st.CheckTimeouts(now); err != nil {
			_ = s.handleDispatchError(err)
		}
		if avg := st.averageWindowUpdate(); avg >= 0 && s.opts.MinAvgWindowUpdate > 0 && avg < s.opts.MinAvgWindowUpdate {
			s.history.Record("stream.abusive_window_update", "")
			_ = s.fatalConn(ConnectionError{Code: ErrCodeEnhanceYourCalm, Msg: "abusive WINDOW_UPDATE rate"})
			return
		}
	}
}

// History exposes the connection's diagnostic event ring.
func (s *Session) History() *History { return s.history }
