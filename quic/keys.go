package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// EncryptionLevel is spec §3's "key-material record indexed by encryption
// level ∈ {INITIAL, ZERO_RTT, HANDSHAKE, ONE_RTT}".
type EncryptionLevel int

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionZeroRTT
	EncryptionHandshake
	EncryptionOneRTT
)

func (l EncryptionLevel) String() string {
	switch l {
	case EncryptionInitial:
		return "initial"
	case EncryptionZeroRTT:
		return "0-rtt"
	case EncryptionHandshake:
		return "handshake"
	case EncryptionOneRTT:
		return "1-rtt"
	default:
		return "unknown"
	}
}

// Direction is read or write, matching the "for both read and write
// directions" clause of spec §4.4's key schedule paragraph.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// CipherSuite names the AEAD spec §4.4 lists as the negotiated options.
type CipherSuite int

const (
	SuiteAES128GCM CipherSuite = iota
	SuiteAES256GCM
	SuiteChaCha20Poly1305
	SuiteAES128CCM
	SuiteAES128CCM8
)

// keySize and ivSize follow the AEAD's own requirements (TLS 1.3 / QUIC-TLS
// §5.1). The header-protection key also takes its length from keySize: for
// AES suites that is the AEAD key size and for ChaCha20 it is 32 bytes.
func (s CipherSuite) keySize() int {
	switch s {
	case SuiteAES256GCM:
		return 32
	case SuiteAES128GCM, SuiteAES128CCM, SuiteAES128CCM8:
		return 16
	case SuiteChaCha20Poly1305:
		return 32
	default:
		return 16
	}
}

func (s CipherSuite) ivSize() int { return 12 }

func (s CipherSuite) hashFunc() func() hash.Hash {
	if s == SuiteAES256GCM {
		return sha512.New384
	}
	return sha256.New
}

// PacketProtectionKeys is the derived material for one (level, direction)
// pair: the AEAD key and IV used to protect/unprotect packet payloads, and
// the header-protection key used to mask the first byte and packet number.
type PacketProtectionKeys struct {
	Level   EncryptionLevel
	Dir     Direction
	Key     []byte
	IV      []byte
	HPKey   []byte
	AEAD    cipher.AEAD
}

// DerivePacketProtectionKeys implements spec §4.4's key-schedule paragraph:
// given a secret generated by the TLS stack for one (level, direction)
// pair, it derives the packet-protection key, IV, and header-protection
// key via HKDF-Expand-Label with the "quic key"/"quic iv"/"quic hp" labels
// and the negotiated AEAD (RFC 9001 §5.1).
func DerivePacketProtectionKeys(suite CipherSuite, level EncryptionLevel, dir Direction, secret []byte) (*PacketProtectionKeys, error) {
	key, err := hkdfExpandLabel(suite.hashFunc(), secret, "quic key", suite.keySize())
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(suite.hashFunc(), secret, "quic iv", suite.ivSize())
	if err != nil {
		return nil, err
	}
	hp, err := hkdfExpandLabel(suite.hashFunc(), secret, "quic hp", suite.keySize())
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	return &PacketProtectionKeys{Level: level, Dir: dir, Key: key, IV: iv, HPKey: hp, AEAD: aead}, nil
}

func newAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case SuiteAES128GCM, SuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case SuiteAES128CCM, SuiteAES128CCM8:
		// No AEAD is built here for the AES-CCM suites (a placeholder
		// GCM construction would mis-encrypt), so
		// DerivePacketProtectionKeys returns this error for them
		// instead of keys.
		return nil, fmt.Errorf("quic: CCM packet protection is driven by the underlying QUIC library, not derived here")
	default:
		return nil, fmt.Errorf("quic: unknown cipher suite %d", suite)
	}
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 §7.1) used by QUIC-TLS to turn a traffic secret into the
// key/iv/hp material above, with an empty context as QUIC-TLS specifies
// for these three labels.
func hkdfExpandLabel(newHash func() hash.Hash, secret []byte, label string, length int) ([]byte, error) {
	hkdfLabel := buildHKDFLabel(label, nil, length)
	out := make([]byte, length)
	reader := hkdf.Expand(newHash, secret, hkdfLabel)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildHKDFLabel encodes the HkdfLabel struct: uint16 length, a length-
// prefixed "tls13 "+label string, and a length-prefixed context.
func buildHKDFLabel(label string, context []byte, length int) []byte {
	full := "tls13 " + label
	buf := make([]byte, 0, 2+1+len(full)+1+len(context))
	buf = append(buf, byte(length>>8), byte(length))
	buf = append(buf, byte(len(full)))
	buf = append(buf, full...)
	buf = append(buf, byte(len(context)))
	buf = append(buf, context...)
	return buf
}
