package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/edgecore/h2quic/corecfg"
	"github.com/edgecore/h2quic/internal/xlog"
)

// fakeConn implements quicgo.Connection with just enough behavior for
// Session's tests: a controllable ConnectionState, addresses, and a
// recorded CloseWithError call.
type fakeConn struct {
	local, remote net.Addr
	state         quicgo.ConnectionState
	closedCode    quicgo.ApplicationErrorCode
	closedReason  string
	closeCalled   bool
}

func (f *fakeConn) AcceptStream(ctx context.Context) (quicgo.Stream, error) { <-ctx.Done(); return nil, ctx.Err() }
func (f *fakeConn) AcceptUniStream(ctx context.Context) (quicgo.ReceiveStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (f *fakeConn) OpenStream() (quicgo.Stream, error)                         { return nil, errors.New("not implemented") }
func (f *fakeConn) OpenStreamSync(ctx context.Context) (quicgo.Stream, error)  { return nil, errors.New("not implemented") }
func (f *fakeConn) OpenUniStream() (quicgo.SendStream, error)                  { return nil, errors.New("not implemented") }
func (f *fakeConn) OpenUniStreamSync(ctx context.Context) (quicgo.SendStream, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeConn) LocalAddr() net.Addr  { return f.local }
func (f *fakeConn) RemoteAddr() net.Addr { return f.remote }
func (f *fakeConn) CloseWithError(code quicgo.ApplicationErrorCode, reason string) error {
	f.closeCalled = true
	f.closedCode = code
	f.closedReason = reason
	return nil
}
func (f *fakeConn) Context() context.Context                   { return context.Background() }
func (f *fakeConn) ConnectionState() quicgo.ConnectionState     { return f.state }
func (f *fakeConn) SendDatagram(b []byte) error                { return nil }
func (f *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) { return nil, nil }

func newFakeConn() *fakeConn {
	return &fakeConn{
		local:  &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4433},
		remote: &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 9001},
		state:  quicgo.ConnectionState{TLS: tls.ConnectionState{NegotiatedProtocol: "h3"}},
	}
}

func TestNewSessionCapturesALPNAndAddresses(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	s := NewSession(conn, corecfg.Default(), clock, xlog.New(nil, 1), nil)

	info := s.Info()
	require.Equal(t, "h3", info.ALPN)
	require.True(t, info.Handshaked)
	require.Equal(t, conn.local, info.LocalAddr)
}

func TestCheckIdleClosesAfterNoActivityTimeout(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	opts := corecfg.Default()
	opts.NoActivityTimeoutIn = 10 * time.Second
	s := NewSession(conn, opts, clock, xlog.New(nil, 2), nil)

	require.NoError(t, s.CheckIdle())
	require.False(t, conn.closeCalled)

	clock.Advance(11 * time.Second)
	require.NoError(t, s.CheckIdle())
	require.True(t, conn.closeCalled)
}

func TestCheckIdleResetsOnTouch(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	opts := corecfg.Default()
	opts.NoActivityTimeoutIn = 10 * time.Second
	s := NewSession(conn, opts, clock, xlog.New(nil, 3), nil)

	clock.Advance(8 * time.Second)
	s.touch()
	clock.Advance(8 * time.Second)
	require.NoError(t, s.CheckIdle())
	require.False(t, conn.closeCalled)
}

func TestInstallKeysTracksByLevelAndDirection(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	s := NewSession(conn, corecfg.Default(), clock, xlog.New(nil, 4), nil)

	keys, err := DerivePacketProtectionKeys(SuiteAES128GCM, EncryptionOneRTT, DirectionWrite, make([]byte, 32))
	require.NoError(t, err)
	s.InstallKeys(keys)

	info := s.Info()
	require.Contains(t, info.Keys, EncryptionOneRTT)
	require.Contains(t, info.Keys[EncryptionOneRTT], DirectionWrite)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	s := NewSession(conn, corecfg.Default(), clock, xlog.New(nil, 5), nil)

	require.NoError(t, s.Close(1, "first"))
	require.NoError(t, s.Close(2, "second"))
	require.Equal(t, quicgo.ApplicationErrorCode(1), conn.closedCode)
}
