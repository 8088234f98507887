package quic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenKeyLoggerDisabledWhenPathEmpty(t *testing.T) {
	kl, err := OpenKeyLogger("")
	require.NoError(t, err)
	require.Nil(t, kl)
	require.NoError(t, kl.LogSecret("CLIENT_HANDSHAKE_TRAFFIC_SECRET", nil, nil))
}

func TestKeyLoggerWritesSSLKEYLOGFILELine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keylog.txt")
	kl, err := OpenKeyLogger(path)
	require.NoError(t, err)
	defer kl.Close()

	require.NoError(t, kl.LogSecret("SERVER_HANDSHAKE_TRAFFIC_SECRET", []byte{1, 2}, []byte{3, 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "SERVER_HANDSHAKE_TRAFFIC_SECRET 0102 0304")
}
