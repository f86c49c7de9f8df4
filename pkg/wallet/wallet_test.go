package wallet

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/nft-minter/pkg/testutil"
)

func TestStoreLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "id.json")
	key := testutil.GenerateSolanaKeypair(t)

	require.NoError(t, Store(path, key))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 0600, info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")

	created, isNew, err := LoadOrCreate(path, Options{})
	require.NoError(t, err)
	assert.True(t, isNew)
	require.Len(t, created, ed25519.PrivateKeySize)

	for i := 0; i < 2; i++ {
		loaded, isNew, err := LoadOrCreate(path, Options{})
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, created, loaded)
	}
}

func TestLoadOrCreate_Corrupt(t *testing.T) {
	for _, contents := range []string{
		"",
		"not json",
		"[1,2,3]",
		"[" + strings.Repeat("256,", 63) + "1]",
	} {
		path := filepath.Join(t.TempDir(), "id.json")
		require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

		_, _, err := LoadOrCreate(path, Options{})
		assert.True(t, errors.Is(err, ErrCorruptKeypair), "contents: %q, err: %v", contents, err)
		assert.False(t, errors.Is(err, ErrKeypairIO))

		// The file is left untouched.
		actual, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, contents, string(actual))

		key, isNew, err := LoadOrCreate(path, Options{RecreateCorrupt: true})
		require.NoError(t, err)
		assert.True(t, isNew)

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, key, loaded)
	}
}

func TestDecode_MismatchedPublicKey(t *testing.T) {
	key := testutil.GenerateSolanaKeypair(t)
	other := testutil.GenerateSolanaKeypair(t)

	mixed := append(append(ed25519.PrivateKey{}, key[:ed25519.SeedSize]...), other[ed25519.SeedSize:]...)
	data, err := Encode(mixed)
	require.NoError(t, err)

	_, err = Decode(data)
	assert.True(t, errors.Is(err, ErrCorruptKeypair))
	assert.Contains(t, err.Error(), "public key does not match secret key")

	// Only the seed is trusted; the public key is derived from it.
	data, err = Encode(key)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
	assert.Equal(t, key.Public(), decoded.Public())
}

func TestLoad_IOError(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, ErrKeypairIO))

	// A directory can be stat'd but not read as a keypair.
	_, _, err = LoadOrCreate(dir, Options{RecreateCorrupt: true})
	assert.True(t, errors.Is(err, ErrKeypairIO))
	assert.False(t, errors.Is(err, ErrCorruptKeypair))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandPath("~/.config/solana/id.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/solana/id.json"), expanded)

	expanded, err = ExpandPath("relative/id.json")
	require.NoError(t, err)
	assert.Equal(t, "relative/id.json", expanded)
}
