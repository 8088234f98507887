package quic

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCertResolverExactMatchWinsOverWildcard(t *testing.T) {
	r := NewCertResolver()
	exact := &tls.Config{ServerName: "exact"}
	wild := &tls.Config{ServerName: "wild"}
	r.Reconfigure([]CertEntry{
		{Pattern: "api.example.com", Config: exact},
		{Pattern: "*.example.com", Config: wild},
	}, nil)

	got, ok := r.Resolve("api.example.com", nil)
	require.True(t, ok)
	require.Same(t, exact, got)
}

func TestCertResolverFallsBackToWildcard(t *testing.T) {
	r := NewCertResolver()
	wild := &tls.Config{ServerName: "wild"}
	r.Reconfigure([]CertEntry{{Pattern: "*.example.com", Config: wild}}, nil)

	got, ok := r.Resolve("foo.example.com", nil)
	require.True(t, ok)
	require.Same(t, wild, got)

	_, ok = r.Resolve("example.com", nil)
	require.False(t, ok, "bare domain must not match a wildcard for a subdomain")
}

func TestCertResolverFallsBackToIPWhenNoSNIMatch(t *testing.T) {
	r := NewCertResolver()
	byIP := &tls.Config{ServerName: "by-ip"}
	r.Reconfigure(nil, map[string]*tls.Config{"127.0.0.1": byIP})

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 443}
	got, ok := r.Resolve("unknown.example.com", addr)
	require.True(t, ok)
	require.Same(t, byIP, got)
}

func TestCertResolverNoMatchReturnsFalse(t *testing.T) {
	r := NewCertResolver()
	_, ok := r.Resolve("nope.example.com", nil)
	require.False(t, ok)
}

func TestCertResolverReconfigureReplacesSnapshot(t *testing.T) {
	r := NewCertResolver()
	first := &tls.Config{ServerName: "first"}
	r.Reconfigure([]CertEntry{{Pattern: "a.example.com", Config: first}}, nil)

	second := &tls.Config{ServerName: "second"}
	r.Reconfigure([]CertEntry{{Pattern: "b.example.com", Config: second}}, nil)

	_, ok := r.Resolve("a.example.com", nil)
	require.False(t, ok, "reconfigure publishes a full replacement, not a merge")

	got, ok := r.Resolve("b.example.com", nil)
	require.True(t, ok)
	require.Same(t, second, got)
}
