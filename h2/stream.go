package h2

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// StreamState is one of the five-state lifecycle values spec §3 names.
type StreamState int

const (
	StateIdle StreamState = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReservedLocal:
		return "RESERVED_LOCAL"
	case StateReservedRemote:
		return "RESERVED_REMOTE"
	case StateOpen:
		return "OPEN"
	case StateHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case StateHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// windowUpdateSample is one entry in a stream's abuse-detection rolling
// window, spec §3 "a rolling window of recent WINDOW_UPDATE increments for
// abuse detection".
type windowUpdateSample struct {
	at        time.Time
	increment uint32
}

// Stream is one multiplexed request/response, spec §3 "Stream" and §4.2.
type Stream struct {
	mu sync.Mutex

	id    uint32
	conn  *Session
	state StreamState

	recvEndStream bool
	sendEndStream bool

	peerWindow  *flow
	localWindow *flow

	recvBuf []byte

	reqHeader  *Header
	respHeader *Header
	trailers   map[string][]string

	body *pipe

	hasBody               bool
	expectTrailers        bool
	trailingHeaderArmed   bool
	trailerAccumulator    *headerAccumulator
	headerBlock           []byte
	headerBlockDone       bool

	priority PriorityParam

	inactivityDeadline time.Time
	activeDeadline     time.Time
	clock              clockwork.Clock

	reentrancy int32
	closed     bool
	terminate  bool

	windowSamples []windowUpdateSample

	isResponse bool // true for outbound (client-role) streams decoding a response

	windowWaiters sync.Cond // only used by Tunnel goroutines; see tunnel.go
}

func newStream(conn *Session, id uint32, isResponse bool) *Stream {
	now := conn.clock.Now()
	s := &Stream{
		id:                 id,
		conn:               conn,
		state:              StateIdle,
		peerWindow:         newFlowWindow(int32(conn.peerSettings.InitialWindowSize)),
		localWindow:        newFlowWindow(int32(conn.localSettings.InitialWindowSize)),
		body:               newPipe(),
		clock:              conn.clock,
		inactivityDeadline: now.Add(conn.opts.IdleTimeout),
		isResponse:         isResponse,
	}
	if d := conn.opts.ActiveTimeoutOrZero(); d > 0 {
		s.activeDeadline = now.Add(d)
	}
	s.windowWaiters.L = &s.mu
	return s
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) PeerWindow() int32  { return s.peerWindow.Available() }
func (s *Stream) LocalWindow() int32 { return s.localWindow.Available() }

// Trailers returns the fields delivered by a trailer HEADERS block, the
// appendix spec §4.2 describes ("delivered ... as an appendix" to the
// primary request/response headers, never replacing them).
func (s *Stream) Trailers() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailers
}

// ArmTrailers is the explicit upstream-handler hook named in spec §9 Open
// Question #3: rather than the session heuristically guessing whether a
// second HEADERS block on this stream is a trailer, the handler calls this
// once it knows it intends to emit/accept a trailer block. Without a call
// here, any second HEADERS block on an OPEN or HALF_CLOSED_LOCAL stream is
// a stream PROTOCOL_ERROR, whether or not DATA arrived in between.
func (s *Stream) ArmTrailers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailingHeaderArmed = true
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.inactivityDeadline = s.clock.Now().Add(s.conn.opts.IdleTimeout)
	s.mu.Unlock()
}

func (s *Stream) enterReentrant() { atomic.AddInt32(&s.reentrancy, 1) }

func (s *Stream) exitReentrant() {
	if atomic.AddInt32(&s.reentrancy, -1) == 0 {
		s.maybeRelease()
	}
}

func (s *Stream) maybeRelease() {
	s.mu.Lock()
	closed, terminate := s.closed, s.terminate
	s.mu.Unlock()
	if closed && terminate && atomic.LoadInt32(&s.reentrancy) == 0 {
		s.conn.releaseStream(s.id)
	}
}

// isValidTransition implements the protocol state matrix spec §3/§4.2 point
// to: which frame types are legal to receive in which state.
func isValidTransition(state StreamState, ft FrameType, endStream bool) bool {
	switch state {
	case StateIdle:
		return ft == FrameHeaders || ft == FramePriority
	case StateReservedLocal:
		return ft == FramePriority || ft == FrameRSTStream || ft == FrameWindowUpdate
	case StateReservedRemote:
		return ft == FrameHeaders || ft == FramePriority || ft == FrameRSTStream
	case StateOpen:
		return true
	case StateHalfClosedLocal:
		return true // peer may still send until its own end-stream
	case StateHalfClosedRemote:
		return ft == FramePriority || ft == FrameRSTStream || ft == FrameWindowUpdate
	case StateClosed:
		return ft == FramePriority
	default:
		return false
	}
}

// onFrame advances the stream's state machine for an inbound frame already
// routed to this stream by the session dispatcher (spec §4.1 dispatch
// table). It is always called from the connection's affinity goroutine, so
// no locking is required against concurrent dispatch; mu still guards
// fields the upstream handler's own goroutine (reading/writing the body
// pipe) may touch concurrently.
func (s *Stream) onFrame(f Frame) error {
	s.touch()
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if !isValidTransition(state, f.Header.Type, f.EndStream) {
		return StreamError{StreamID: s.id, Code: ErrCodeStreamClosed, Msg: "frame invalid for stream state " + state.String()}
	}

	switch f.Header.Type {
	case FrameHeaders:
		return s.onHeaders(f)
	case FrameContinuation:
		return s.onContinuation(f)
	case FrameData:
		return s.onData(f)
	case FrameRSTStream:
		s.resetByPeer(f.ErrCode)
		return nil
	case FrameWindowUpdate:
		return s.onWindowUpdate(f.WindowIncrement)
	case FramePriority:
		s.priority = f.Priority
		if s.conn.priority != nil {
			s.conn.priority.Reprioritize(s.id, f.Priority)
		}
		return nil
	}
	return nil
}

func (s *Stream) onHeaders(f Frame) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateOpen
	case StateReservedRemote:
		s.state = StateReservedRemote
	case StateHalfClosedLocal, StateOpen:
		if !s.trailingHeaderArmed {
			s.mu.Unlock()
			return StreamError{StreamID: s.id, Code: ErrCodeProtocol, Msg: "unexpected second HEADERS block without ArmTrailers"}
		}
	}
	if f.HasPriority {
		s.priority = f.Priority
	}
	s.headerBlock = append(s.headerBlock[:0], f.HeaderBlockFragment...)
	s.headerBlockDone = f.EndHeaders
	s.mu.Unlock()

	if f.EndHeaders {
		if err := s.finishHeaderBlock(); err != nil {
			return err
		}
	} else {
		s.conn.continuationStreamID = s.id
	}
	if f.EndStream {
		s.markRecvEndStream()
	}
	return nil
}

func (s *Stream) onContinuation(f Frame) error {
	s.mu.Lock()
	s.headerBlock = append(s.headerBlock, f.HeaderBlockFragment...)
	s.headerBlockDone = f.EndHeaders
	s.mu.Unlock()

	if f.EndHeaders {
		s.conn.continuationStreamID = 0
		return s.finishHeaderBlock()
	}
	return nil
}

// finishHeaderBlock runs the completed header block through the
// connection's shared HPACK decoder and validates it per spec §4.2's rule
// list, producing the canonical Header the upstream handler sees.
func (s *Stream) finishHeaderBlock() error {
	s.mu.Lock()
	block := s.headerBlock
	isTrailer := s.reqHeader != nil || s.respHeader != nil
	s.mu.Unlock()

	acc := newHeaderAccumulator(s.isResponse)
	acc.isTrailer = isTrailer
	if err := s.conn.decodeHeaderBlock(block, acc); err != nil {
		return ConnectionError{Code: ErrCodeCompression, Msg: err.Error()}
	}
	hdr, err := acc.finish()
	if err != nil {
		return StreamError{StreamID: s.id, Code: ErrCodeProtocol, Msg: err.Error()}
	}

	s.mu.Lock()
	if isTrailer {
		if s.trailers == nil {
			s.trailers = make(map[string][]string, len(hdr.Fields))
		}
		for name, values := range hdr.Fields {
			s.trailers[name] = append(s.trailers[name], values...)
		}
	} else if s.isResponse {
		s.respHeader = hdr
	} else {
		s.reqHeader = hdr
		s.hasBody = hdr.ContentLength != 0
	}
	s.mu.Unlock()
	return nil
}

func (s *Stream) onData(f Frame) error {
	n := int32(len(f.Data)) + int32(f.PadLength)
	if s.localWindow.Available() < n {
		return ConnectionError{Code: ErrCodeFlowControl, Msg: "stream flow control violation"}
	}
	s.localWindow.take(n)
	s.conn.connLocalWindow.take(n)

	if len(f.Data) > 0 {
		if _, err := s.body.Write(f.Data); err != nil {
			return StreamError{StreamID: s.id, Code: ErrCodeInternal, Msg: err.Error()}
		}
	}

	initial := int32(s.conn.localSettings.InitialWindowSize)
	if s.localWindow.Available() <= initial/2 {
		incr := initial - s.localWindow.Available()
		s.localWindow.add(incr)
		s.conn.enqueueWindowUpdate(s.id, uint32(incr))
	}
	if s.conn.connLocalWindow.Available() <= initial/2 {
		incr := initial - s.conn.connLocalWindow.Available()
		s.conn.connLocalWindow.add(incr)
		s.conn.enqueueWindowUpdate(0, uint32(incr))
	}

	if f.EndStream {
		s.markRecvEndStream()
	}
	return nil
}

func (s *Stream) markRecvEndStream() {
	s.mu.Lock()
	s.recvEndStream = true
	if s.sendEndStream {
		s.state = StateClosed
	} else if s.state != StateClosed {
		s.state = StateHalfClosedRemote
	}
	s.mu.Unlock()
	s.body.CloseWithError(nil)
	s.maybeClose()
}

// onWindowUpdate applies a peer-advertised increment and records a sample
// for the abuse-detection rolling window (spec §3, §4.1 "many small
// WINDOW_UPDATEs ... mark the peer as abusive").
func (s *Stream) onWindowUpdate(increment uint32) error {
	if increment == 0 {
		return StreamError{StreamID: s.id, Code: ErrCodeProtocol, Msg: "zero WINDOW_UPDATE increment"}
	}
	s.mu.Lock()
	ok := s.peerWindow.add(int32(increment))
	if !ok {
		s.mu.Unlock()
		return StreamError{StreamID: s.id, Code: ErrCodeFlowControl, Msg: "WINDOW_UPDATE overflow"}
	}
	s.windowSamples = append(s.windowSamples, windowUpdateSample{at: s.clock.Now(), increment: increment})
	if len(s.windowSamples) > 32 {
		s.windowSamples = s.windowSamples[len(s.windowSamples)-32:]
	}
	s.mu.Unlock()
	s.windowWaiters.Broadcast()
	return nil
}

// averageWindowUpdate reports the mean increment over the retained sample
// window, used by the session's abuse detector.
func (s *Stream) averageWindowUpdate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.windowSamples) == 0 {
		return -1
	}
	var sum uint64
	for _, w := range s.windowSamples {
		sum += uint64(w.increment)
	}
	return float64(sum) / float64(len(s.windowSamples))
}

func (s *Stream) resetByPeer(code ErrCode) {
	s.conn.history.Record("stream.rst_recv", s.id2Info(code))
	s.mu.Lock()
	s.state = StateClosed
	s.closed = true
	s.terminate = true
	s.mu.Unlock()
	s.body.CloseWithError(errPipeClosed)
	s.windowWaiters.Broadcast()
	s.maybeClose()
}

func (s *Stream) id2Info(code ErrCode) string {
	return "stream=" + itoa(s.id) + " code=" + code.String()
}

// Close marks the stream closed locally (user abort via RST_STREAM, or
// normal completion), spec §4.2 "Cleanup".
func (s *Stream) Close(code ErrCode) {
	s.mu.Lock()
	already := s.closed
	s.state = StateClosed
	s.closed = true
	s.terminate = true
	s.mu.Unlock()
	if already {
		return
	}
	s.body.BreakWithError(errPipeClosed)
	s.windowWaiters.Broadcast()
	s.conn.enqueueRSTStream(s.id, code)
	s.maybeClose()
}

func (s *Stream) maybeClose() {
	s.mu.Lock()
	done := s.recvEndStream && s.sendEndStream
	if done {
		s.state = StateClosed
		s.closed = true
		s.terminate = true
	}
	s.mu.Unlock()
	if done {
		s.maybeRelease()
	}
}

// CheckTimeouts evaluates the stream's inactivity/active deadlines against
// now, returning the event the session should raise (spec §4.2
// "Timeouts"). If no upstream handler has attached yet, inactivity timeout
// maps to a compression error per the spec's explicit rule, since the
// HPACK decoder could not be advanced cleanly without one.
func (s *Stream) CheckTimeouts(now time.Time) error {
	s.mu.Lock()
	inactive := !now.Before(s.inactivityDeadline)
	active := !s.activeDeadline.IsZero() && !now.Before(s.activeDeadline)
	hasHandler := s.reqHeader != nil || s.respHeader != nil
	s.mu.Unlock()

	if inactive && !hasHandler {
		return ConnectionError{Code: ErrCodeCompression, Msg: "inactivity timeout before headers attached"}
	}
	if inactive || active {
		s.body.CloseWithError(nil)
		return StreamError{StreamID: s.id, Code: ErrCodeCancel, Msg: "timeout"}
	}
	return nil
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
