// Package wallet loads and persists the signing keypair used for a run.
//
// Keypairs are stored in the Solana CLI format: a JSON array holding the 64
// bytes of the ed25519 secret key (seed followed by public key).
package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCorruptKeypair indicates the keypair file exists but cannot be
	// decoded into a valid keypair.
	ErrCorruptKeypair = errors.New("corrupt keypair file")
	// ErrKeypairIO indicates the keypair file could not be read or written.
	ErrKeypairIO = errors.New("keypair file i/o failure")
)

const (
	fileMode = 0600
	dirMode  = 0700
)

type Options struct {
	// RecreateCorrupt replaces an undecodable keypair file with a fresh
	// keypair instead of failing with ErrCorruptKeypair.
	RecreateCorrupt bool
}

// Load reads the keypair stored at path.
func Load(path string) (ed25519.PrivateKey, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrKeypairIO, "failed to read %s: %v", path, err)
	}

	key, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return key, nil
}

// Store writes key to path with owner only permissions, creating parent
// directories as needed. An existing file is replaced atomically.
func Store(path string, key ed25519.PrivateKey) error {
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}

	data, err := Encode(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errors.Wrapf(ErrKeypairIO, "failed to create %s: %v", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(ErrKeypairIO, "failed to create temporary file: %v", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(fileMode); err != nil {
		f.Close()
		return errors.Wrapf(ErrKeypairIO, "failed to chmod %s: %v", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(ErrKeypairIO, "failed to write %s: %v", tmp, err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(ErrKeypairIO, "failed to close %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(ErrKeypairIO, "failed to write %s: %v", path, err)
	}

	return nil
}

// LoadOrCreate returns the keypair at path, generating and persisting a new
// one if no file exists. created reports whether a new keypair was made.
func LoadOrCreate(path string, opts Options) (key ed25519.PrivateKey, created bool, err error) {
	log := logrus.StandardLogger().WithFields(logrus.Fields{
		"type": "wallet/loader",
		"path": path,
	})

	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, false, err
	}

	_, err = os.Stat(expanded)
	switch {
	case err == nil:
		key, err = Load(expanded)
		if err == nil {
			log.Debug("loaded existing keypair")
			return key, false, nil
		}
		if !errors.Is(err, ErrCorruptKeypair) || !opts.RecreateCorrupt {
			return nil, false, err
		}
		log.WithError(err).Warn("replacing corrupt keypair file")
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, false, errors.Wrapf(ErrKeypairIO, "failed to stat %s: %v", expanded, err)
	}

	_, key, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to generate keypair")
	}
	if err := Store(expanded, key); err != nil {
		return nil, false, err
	}

	log.Info("created new keypair")
	return key, true, nil
}

// Decode parses a Solana CLI keypair file.
func Decode(data []byte) (ed25519.PrivateKey, error) {
	var ints []int
	if err := json.Unmarshal(bytes.TrimSpace(data), &ints); err != nil {
		return nil, errors.Wrapf(ErrCorruptKeypair, "invalid json: %v", err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrCorruptKeypair, "unexpected secret key length: got %d, want %d", len(ints), ed25519.PrivateKeySize)
	}

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ErrCorruptKeypair, "byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}

	account, err := types.AccountFromSeed(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptKeypair, "invalid keypair: %v", err)
	}
	if !bytes.Equal(account.PublicKey.Bytes(), raw[ed25519.SeedSize:]) {
		return nil, errors.Wrap(ErrCorruptKeypair, "public key does not match secret key")
	}

	return account.PrivateKey, nil
}

// Encode formats key as a Solana CLI keypair file.
func Encode(key ed25519.PrivateKey) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("unexpected private key length: %d", len(key))
	}

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(ErrKeypairIO, "failed to resolve home directory: %v", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
