package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivePacketProtectionKeysProducesDistinctMaterialPerLabel(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	keys, err := DerivePacketProtectionKeys(SuiteAES128GCM, EncryptionOneRTT, DirectionWrite, secret)
	require.NoError(t, err)
	require.Len(t, keys.Key, 16)
	require.Len(t, keys.IV, 12)
	require.Len(t, keys.HPKey, 16)
	require.NotEqual(t, keys.Key, keys.HPKey)
	require.NotNil(t, keys.AEAD)
}

func TestDeriveIsDeterministic(t *testing.T) {
	secret := []byte("a fixed 32-byte secret value!!!!")
	a, err := DerivePacketProtectionKeys(SuiteAES256GCM, EncryptionHandshake, DirectionRead, secret)
	require.NoError(t, err)
	b, err := DerivePacketProtectionKeys(SuiteAES256GCM, EncryptionHandshake, DirectionRead, secret)
	require.NoError(t, err)
	require.Equal(t, a.Key, b.Key)
	require.Equal(t, a.IV, b.IV)
	require.Equal(t, a.HPKey, b.HPKey)
}

func TestDeriveChaCha20Poly1305KeySize(t *testing.T) {
	secret := make([]byte, 32)
	keys, err := DerivePacketProtectionKeys(SuiteChaCha20Poly1305, EncryptionOneRTT, DirectionRead, secret)
	require.NoError(t, err)
	require.Len(t, keys.Key, 32)
}

func TestDeriveRejectsCCMSuites(t *testing.T) {
	secret := make([]byte, 32)
	_, err := DerivePacketProtectionKeys(SuiteAES128CCM, EncryptionOneRTT, DirectionRead, secret)
	require.Error(t, err)
}
