package quic

import (
	"crypto/tls"
	"net"

	quicgo "github.com/quic-go/quic-go"

	"github.com/edgecore/h2quic/corecfg"
)

// Endpoint bundles everything BuildConfig needs beyond corecfg.Options: the
// cert resolver for SNI/IP switching and the optional retry verifier and
// key logger, each of which is nil-able and independently toggled by the
// options it corresponds to.
type Endpoint struct {
	Certs  *CertResolver
	Retry  *RetryVerifier
	KeyLog *KeyLogger
}

// BuildQUICConfig translates corecfg.Options' QUIC transport-parameter
// fields (spec §6's named options) into a *quicgo.Config, the boundary
// spec §3.3 calls the "FFI-agnostic surface": everywhere the original ATS
// source would configure quiche via its C API, this instead populates the
// quic-go struct fields that drive the same transport parameters.
func BuildQUICConfig(opts corecfg.Options, ep *Endpoint) *quicgo.Config {
	cfg := &quicgo.Config{
		MaxIdleTimeout:                 opts.NoActivityTimeoutIn,
		InitialStreamReceiveWindow:     opts.InitialMaxStreamDataBidiLocalIn,
		MaxStreamReceiveWindow:         opts.InitialMaxStreamDataBidiLocalIn,
		InitialConnectionReceiveWindow: opts.InitialMaxDataIn,
		MaxConnectionReceiveWindow:     opts.InitialMaxDataIn,
		MaxIncomingStreams:             int64(opts.InitialMaxStreamsBidiIn),
		MaxIncomingUniStreams:          int64(opts.InitialMaxStreamsUniIn),
		EnableDatagrams:                true,
	}

	if opts.StatelessRetry && ep != nil && ep.Retry != nil {
		cfg.RequireAddressValidation = func(net.Addr) bool { return true }
	}

	if ep != nil && ep.Certs != nil {
		cfg.GetConfigForClient = func(info *quicgo.ClientHelloInfo) (*quicgo.Config, error) {
			// quic-go's ClientHelloInfo only carries the remote address at
			// this layer (SNI is surfaced through the tls.Config's own
			// GetConfigForClient, wired below); per-client quic.Config
			// overrides are not needed here, so the same config is
			// returned for every client. This hook exists to document
			// where a future per-client transport-parameter override
			// (e.g. a throttled InitialMaxData for a flagged address)
			// would plug in.
			_ = info
			return cfg, nil
		}
	}

	return cfg
}

// BuildTLSConfig constructs the *tls.Config driving the QUIC handshake,
// wiring cipher suite / curve preferences, the key logger, and the SNI/IP
// certificate-switching callback of spec §4.4 ("Certificate switching
// (server)"). opts.OCSPStaplingEnabled is not read; no OCSP staple is
// configured here.
func BuildTLSConfig(opts corecfg.Options, ep *Endpoint) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{"h3"},
	}
	if ep != nil && ep.KeyLog != nil {
		cfg.KeyLogWriter = ep.KeyLog
	}
	if len(opts.ServerCipherSuites) > 0 {
		cfg.CipherSuites = cipherSuiteIDs(opts.ServerCipherSuites)
	}
	if len(opts.ServerGroupsList) > 0 {
		cfg.CurvePreferences = curveIDs(opts.ServerGroupsList)
	}

	if ep != nil && ep.Certs != nil {
		certs := ep.Certs
		cfg.GetConfigForClient = func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
			sni := ClientHelloSNI(chi)
			var local net.Addr
			if conn, ok := chi.Conn.(interface{ LocalAddr() net.Addr }); ok {
				local = conn.LocalAddr()
			}
			matched, ok := certs.Resolve(sni, local)
			if !ok {
				return nil, errNoCertMatch
			}
			return matched, nil
		}
	}

	return cfg
}

var errNoCertMatch = &certMatchError{}

type certMatchError struct{}

func (*certMatchError) Error() string {
	return "quic: no SNI or IP certificate match for this ClientHello"
}

func cipherSuiteIDs(names []string) []uint16 {
	known := map[string]uint16{
		"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
		"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
		"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,
	}
	var ids []uint16
	for _, n := range names {
		if id, ok := known[n]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func curveIDs(names []string) []tls.CurveID {
	known := map[string]tls.CurveID{
		"X25519":   tls.X25519,
		"P-256":    tls.CurveP256,
		"P-384":    tls.CurveP384,
		"P-521":    tls.CurveP521,
	}
	var ids []tls.CurveID
	for _, n := range names {
		if id, ok := known[n]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
