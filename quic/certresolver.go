// Package quic implements the QUIC session adapter named in spec §4.4: a
// worker-thread-affine wrapper around a QUIC implementation handle (here,
// quic-go), the TLS 1.3 key schedule that plumbs secrets into packet
// protection keys, SNI/IP certificate switching, and stateless retry.
package quic

import (
	"crypto/tls"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CertEntry pairs a *tls.Config with the hostname pattern it was loaded
// under. A leading "*." marks a wildcard entry, matched against the
// right-hand labels of the ClientHello SNI per spec §4.4 ("wildcard
// matches against the entries loaded at configuration time").
type CertEntry struct {
	Pattern string
	Config  *tls.Config
}

// certSnapshot is the read-mostly, versioned map spec §5 requires ("The
// SNI and IP certificate maps are read-mostly, versioned; readers acquire
// a reference-counted snapshot; writers publish a new snapshot on
// reconfiguration"). Go's GC makes the refcounting itself unnecessary — a
// reader holding a *certSnapshot pointer keeps it alive regardless of what
// CertResolver.snapshot points to afterward — so this type only carries
// the version number for diagnostics and the two lookup maps.
type certSnapshot struct {
	version int64
	exact   map[string]*tls.Config
	wild    map[string]*tls.Config // keyed by suffix without the "*."
	byIP    map[string]*tls.Config
}

// CertResolver implements the certificate-switching algorithm of spec
// §4.4: exact SNI match, then wildcard SNI match, then IP-address match
// keyed on the local endpoint, matching QUICMultiCertConfigLoader's
// SNI-then-IP lookup order (original_source
// iocore/net/QUICMultiCertConfigLoader.cc's multi-cert load path, adapted
// from OpenSSL SSL_CTX lookup to Go's tls.Config-per-host model).
type CertResolver struct {
	mu       sync.Mutex
	snapshot *certSnapshot
	group    singleflight.Group
}

// NewCertResolver returns a resolver with an empty snapshot; call
// Reconfigure to load entries before serving traffic.
func NewCertResolver() *CertResolver {
	return &CertResolver{snapshot: emptySnapshot()}
}

func emptySnapshot() *certSnapshot {
	return &certSnapshot{
		exact: map[string]*tls.Config{},
		wild:  map[string]*tls.Config{},
		byIP:  map[string]*tls.Config{},
	}
}

// Reconfigure publishes a new snapshot built from sniEntries and
// ipEntries. Concurrent callers collapse onto a single build via
// singleflight, matching spec §4.4's versioned-snapshot publication model
// without blocking readers of the snapshot already in place.
func (r *CertResolver) Reconfigure(sniEntries []CertEntry, ipEntries map[string]*tls.Config) {
	key := "reconfigure"
	_, _, _ = r.group.Do(key, func() (any, error) {
		next := emptySnapshot()
		r.mu.Lock()
		next.version = r.snapshot.version + 1
		r.mu.Unlock()
		for _, e := range sniEntries {
			if strings.HasPrefix(e.Pattern, "*.") {
				next.wild[strings.TrimPrefix(e.Pattern, "*.")] = e.Config
			} else {
				next.exact[e.Pattern] = e.Config
			}
		}
		for ip, cfg := range ipEntries {
			next.byIP[ip] = cfg
		}
		r.mu.Lock()
		r.snapshot = next
		r.mu.Unlock()
		return nil, nil
	})
}

// Resolve implements the three-step lookup of spec §4.4's "Certificate
// switching (server)": exact SNI, then wildcard SNI, then local-endpoint
// IP. It returns (nil, false) when nothing matched, which the caller
// (quic.Config.GetConfigForClient) must turn into a failed handshake.
func (r *CertResolver) Resolve(sni string, localAddr net.Addr) (*tls.Config, bool) {
	r.mu.Lock()
	snap := r.snapshot
	r.mu.Unlock()

	if sni != "" {
		if cfg, ok := snap.exact[sni]; ok {
			return cfg, true
		}
		if cfg, ok := matchWildcard(snap.wild, sni); ok {
			return cfg, true
		}
	}
	if localAddr != nil {
		host, _, err := net.SplitHostPort(localAddr.String())
		if err != nil {
			host = localAddr.String()
		}
		if cfg, ok := snap.byIP[host]; ok {
			return cfg, true
		}
	}
	return nil, false
}

// matchWildcard checks sni's labels against each wildcard suffix
// registered, longest suffix first so the most specific wildcard wins
// when more than one matches (e.g. "a.b.example.com" against both
// "*.example.com" and "*.b.example.com").
func matchWildcard(wild map[string]*tls.Config, sni string) (*tls.Config, bool) {
	var bestCfg *tls.Config
	bestLen := -1
	for suffix, cfg := range wild {
		if strings.HasSuffix(sni, "."+suffix) && len(suffix) > bestLen {
			bestCfg, bestLen = cfg, len(suffix)
		}
	}
	return bestCfg, bestCfg != nil
}
