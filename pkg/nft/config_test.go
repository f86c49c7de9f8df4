package nft

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/nft-minter/pkg/testutil"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	cfg, err = LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadConfig_Precedence(t *testing.T) {
	creator := base58.Encode(testutil.GenerateSolanaKeys(t, 1)[0])

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"endpoint: http://localhost:8899",
		"wallet_path: /tmp/from-file.json",
		"name: From File",
		"symbol: FILE",
		"funding_timeout: 2m",
		"funding_poll_interval: 250ms",
		"use_associated_token_account: true",
		"seller_fee_basis_points: 250",
		"creators:",
		"  - address: " + creator,
		"    share: 100",
	}, "\n")), 0600))

	t.Setenv("NFT_SYMBOL", "ENV")
	t.Setenv("NFT_MAX_ATTEMPTS", "7")
	t.Setenv("NFT_VERIFY", "false")

	cfg, err := LoadConfig(path, map[string]interface{}{
		"name": "From Flag",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8899", cfg.Endpoint)
	assert.Equal(t, "/tmp/from-file.json", cfg.WalletPath)
	assert.Equal(t, "From Flag", cfg.Name)
	assert.Equal(t, "ENV", cfg.Symbol)
	assert.EqualValues(t, 7, cfg.MaxAttempts)
	assert.False(t, cfg.Verify)
	assert.Equal(t, 2*time.Minute, cfg.FundingTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.FundingPollInterval)
	assert.True(t, cfg.UseAssociatedTokenAccount)
	assert.EqualValues(t, 250, cfg.SellerFeeBasisPoints)
	require.Len(t, cfg.Creators, 1)
	assert.Equal(t, creator, cfg.Creators[0].Address)
	assert.EqualValues(t, 100, cfg.Creators[0].Share)

	// Untouched keys keep their defaults.
	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, DefaultConfig().AirdropAmount, cfg.AirdropAmount)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: [unterminated"), 0600))

	_, err := LoadConfig(path, nil)
	assert.Error(t, err)

	_, err = LoadConfig("", map[string]interface{}{"decimals": 2})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)

	for _, tc := range []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"decimals", func(c *Config) { c.Decimals = 9 }, false},
		{"endpoint", func(c *Config) { c.Endpoint = "" }, false},
		{"commitment", func(c *Config) { c.Commitment = "eventually" }, false},
		{"wallet path", func(c *Config) { c.WalletPath = "" }, false},
		{"airdrop amount", func(c *Config) { c.AirdropAmount = 0 }, false},
		{"poll interval", func(c *Config) { c.FundingPollInterval = 0 }, false},
		{"negative timeout", func(c *Config) { c.FundingTimeout = -time.Second }, false},
		{"no timeout", func(c *Config) { c.FundingTimeout = 0 }, true},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }, false},
		{"rate limit", func(c *Config) { c.RPCRateLimit = -1 }, false},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"name", func(c *Config) { c.Name = strings.Repeat("a", 33) }, false},
		{"max name", func(c *Config) { c.Name = strings.Repeat("a", 32) }, true},
		{"symbol", func(c *Config) { c.Symbol = strings.Repeat("a", 11) }, false},
		{"uri", func(c *Config) { c.URI = strings.Repeat("a", 201) }, false},
		{"seller fee", func(c *Config) { c.SellerFeeBasisPoints = 10001 }, false},
		{"creator address", func(c *Config) {
			c.Creators = []CreatorConfig{{Address: "not-base58!", Share: 100}}
		}, false},
		{"creator shares", func(c *Config) {
			c.Creators = []CreatorConfig{
				{Address: base58.Encode(keys[0]), Share: 50},
				{Address: base58.Encode(keys[1]), Share: 40},
			}
		}, false},
		{"duplicate creators", func(c *Config) {
			c.Creators = []CreatorConfig{
				{Address: base58.Encode(keys[0]), Share: 50},
				{Address: base58.Encode(keys[0]), Share: 50},
			}
		}, false},
		{"creators", func(c *Config) {
			c.Creators = []CreatorConfig{
				{Address: base58.Encode(keys[0]), Share: 50},
				{Address: base58.Encode(keys[1]), Share: 50},
			}
		}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
