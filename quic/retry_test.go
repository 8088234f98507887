package quic

import (
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRetryTokenRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewRetryVerifier([]byte("server-secret-0123456789abcdef"), clock)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55555}

	token := v.Issue(addr)
	require.NoError(t, v.Verify(token, addr))
}

func TestRetryTokenRejectsWrongAddress(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewRetryVerifier([]byte("server-secret-0123456789abcdef"), clock)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55555}
	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 55555}

	token := v.Issue(addr)
	require.ErrorIs(t, v.Verify(token, other), ErrRetryTokenInvalid)
}

func TestRetryTokenExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewRetryVerifier([]byte("server-secret-0123456789abcdef"), clock)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55555}

	token := v.Issue(addr)
	clock.Advance(retryTokenTTL + time.Second)
	require.ErrorIs(t, v.Verify(token, addr), ErrRetryTokenInvalid)
}

func TestRetryTokenRejectsTampering(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewRetryVerifier([]byte("server-secret-0123456789abcdef"), clock)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55555}

	token := v.Issue(addr)
	token[len(token)-1] ^= 0xff
	require.ErrorIs(t, v.Verify(token, addr), ErrRetryTokenInvalid)
}
