package quic

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// KeyLogger writes TLS secrets in the SSLKEYLOGFILE format (one line per
// secret: "<Label> <ClientRandom-hex> <Secret-hex>") named in spec §4.4's
// key-schedule paragraph ("Logs the secret to a key-log file when
// configured"). tls.Config.KeyLogWriter accepts exactly this shape, so
// this type is handed straight to it when corecfg.Options.KeyLogPath is
// set.
type KeyLogger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenKeyLogger opens path for appending and returns a logger, or nil (no
// error) if path is empty — callers treat a nil *KeyLogger as "disabled"
// rather than special-casing the empty-path configuration themselves.
func OpenKeyLogger(path string) (*KeyLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("quic: open key log file: %w", err)
	}
	return &KeyLogger{w: f}, nil
}

// Write implements io.Writer so a *KeyLogger can be assigned directly to
// tls.Config.KeyLogWriter.
func (k *KeyLogger) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.w.Write(p)
}

// LogSecret writes one key-log line directly, for the QUIC-TLS secrets
// this package derives itself (label plus the client random captured at
// ClientHello time) rather than routed through crypto/tls's own
// KeyLogWriter plumbing.
func (k *KeyLogger) LogSecret(label string, clientRandom, secret []byte) error {
	if k == nil {
		return nil
	}
	line := fmt.Sprintf("%s %s %s\n", label, hex.EncodeToString(clientRandom), hex.EncodeToString(secret))
	_, err := k.Write([]byte(line))
	return err
}

func (k *KeyLogger) Close() error {
	if k == nil {
		return nil
	}
	return k.w.Close()
}
