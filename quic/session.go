package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/jonboulle/clockwork"

	"github.com/edgecore/h2quic/corecfg"
	"github.com/edgecore/h2quic/internal/xlog"
	"github.com/edgecore/h2quic/metrics"
)

// ConnectionInfo is spec §3's "QUIC connection info": source connection
// id, original destination connection id, five-tuple snapshot, negotiated
// ALPN, handshake-completed flag, early-data flag, plus the key-material
// record the adapter populates as the TLS layer generates each secret.
type ConnectionInfo struct {
	SourceCID     []byte
	OrigDestCID   []byte
	LocalAddr     net.Addr
	RemoteAddr    net.Addr
	ALPN          string
	Handshaked    bool
	Used0RTT      bool
	Keys          map[EncryptionLevel]map[Direction]*PacketProtectionKeys
}

// Session adapts a quic-go quicgo.Connection to the lifecycle spec §4.4
// describes: it surfaces readable streams upward, tracks per-level key
// material as the TLS stack generates it, and offers CheckIdle for idle
// closure (it starts no timer of its own). quic-go owns datagram ingestion, ACK processing,
// and loss detection internally (the parts of spec §4.4 steps 3-4 that
// would otherwise hand-roll a UDP read/write loop); this type is the
// FFI-agnostic surface spec §3.3 names, the boundary at which our code
// supplies callbacks and affinity-thread dispatch around that library.
type Session struct {
	mu sync.Mutex

	conn  quicgo.Connection
	opts  corecfg.Options
	clock clockwork.Clock
	log   *xlog.Logger
	m     *metrics.Set

	info ConnectionInfo

	lastActivity time.Time
	openedAt     time.Time

	closed bool
}

// NewSession wraps an already-accepted or already-dialed quic-go
// connection. conn.ConnectionState() is consulted immediately for the
// negotiated ALPN and 0-RTT flag; handshake completion is tracked
// separately via the connection's HandshakeComplete channel where conn
// implements quicgo.EarlyConnection (dial-side), or is assumed already
// complete for a server-side conn handed back by Accept.
func NewSession(conn quicgo.Connection, opts corecfg.Options, clock clockwork.Clock, log *xlog.Logger, m *metrics.Set) *Session {
	now := clock.Now()
	s := &Session{
		conn:         conn,
		opts:         opts,
		clock:        clock,
		log:          log,
		m:            m,
		lastActivity: now,
		openedAt:     now,
		info: ConnectionInfo{
			LocalAddr:  conn.LocalAddr(),
			RemoteAddr: conn.RemoteAddr(),
			Keys:       map[EncryptionLevel]map[Direction]*PacketProtectionKeys{},
		},
	}

	cs := conn.ConnectionState()
	s.info.ALPN = cs.TLS.NegotiatedProtocol
	s.info.Used0RTT = cs.Used0RTT
	s.info.Handshaked = true

	if early, ok := conn.(quicgo.EarlyConnection); ok {
		s.info.Handshaked = false
		go s.awaitHandshake(early)
	}

	if m != nil {
		m.ConnectionsOpened.Inc()
	}
	return s
}

func (s *Session) awaitHandshake(early quicgo.EarlyConnection) {
	select {
	case <-early.HandshakeComplete():
		s.mu.Lock()
		s.info.Handshaked = true
		s.mu.Unlock()
		if s.m != nil {
			s.m.HandshakesCompleted.Inc()
		}
	case <-early.Context().Done():
	}
}

// InstallKeys records derived packet-protection material for (level, dir),
// implementing the last step of spec §4.4's key-schedule paragraph
// ("Installs the derived material into the packet protection key store
// indexed by (level, direction)"). secret logging (the preceding step) is
// the caller's responsibility via KeyLogger, since the client-random
// needed for the SSLKEYLOGFILE line is only available at the TLS layer
// that calls this, not here.
func (s *Session) InstallKeys(keys *PacketProtectionKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDir, ok := s.info.Keys[keys.Level]
	if !ok {
		byDir = map[Direction]*PacketProtectionKeys{}
		s.info.Keys[keys.Level] = byDir
	}
	byDir[keys.Dir] = keys
}

// Info returns a snapshot of the connection info tracked so far.
func (s *Session) Info() ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.info
	return cp
}

// Serve runs the accept loop (spec §4.4 lifecycle step 3: "polls for
// readable streams, creates a stream object per newly readable id, and
// surfaces data upward"), handing each accepted stream to onStream. It
// blocks until ctx is cancelled or the connection closes, matching the
// cloudflared quic_connection.go accept-loop shape (errgroup-style accept
// loop feeding a per-stream goroutine) this package is grounded on.
func (s *Session) Serve(ctx context.Context, onStream func(quicgo.Stream)) error {
	for {
		stream, err := s.conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.touch()
		go onStream(stream)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// CheckIdle handles the connection-level accept-no-activity timeout of
// spec §5 and the idle timeout: it closes the connection if no activity has
// been observed within NoActivityTimeoutIn, or unconditionally past
// AcceptNoActivityTimeout from open if the handshake never completed.
// opts.ActiveTimeout is not checked here.
func (s *Session) CheckIdle() error {
	s.mu.Lock()
	now := s.clock.Now()
	idleFor := now.Sub(s.lastActivity)
	openFor := now.Sub(s.openedAt)
	handshaked := s.info.Handshaked
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil
	}
	if !handshaked && s.opts.AcceptNoActivityTimeout > 0 && openFor > s.opts.AcceptNoActivityTimeout {
		return s.Close(quicgo.ApplicationErrorCode(0), "handshake did not complete in time")
	}
	if s.opts.NoActivityTimeoutIn > 0 && idleFor > s.opts.NoActivityTimeoutIn {
		return s.Close(quicgo.ApplicationErrorCode(0), "idle timeout")
	}
	return nil
}

// Close closes the underlying connection once, matching the "stream
// transitions to CLOSED and is scheduled for deferred release" shutdown
// path spec §5 describes at the connection granularity.
func (s *Session) Close(code quicgo.ApplicationErrorCode, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.m != nil {
		s.m.ConnectionsClosed.Inc()
	}
	return s.conn.CloseWithError(code, reason)
}

// ClientHelloSNI extracts the SNI from a tls.ClientHelloInfo, used by the
// cert-resolver callback wired in BuildTLSConfig. It exists as a named
// helper rather than an inline field read so call sites read like spec
// §4.4's own phrasing ("Reads the SNI value from the ClientHello").
func ClientHelloSNI(chi *tls.ClientHelloInfo) string {
	return chi.ServerName
}
