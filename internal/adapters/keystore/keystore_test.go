package keystore

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndLoad_RoundTrips(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sealed, err := Seal(priv, []byte("correct horse battery staple"))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err := Load(path, []byte("correct horse battery staple"))
	require.NoError(t, err)
	assert.Equal(t, priv, got)
}

func TestLoad_WrongPassphraseFails(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sealed, err := Seal(priv, []byte("right"))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	_, err = Load(path, []byte("wrong"))
	assert.Error(t, err)
}
