package nft

import (
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/metadata"
)

// Config configures a Minter.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Endpoint is an RPC URL, or one of the cluster monikers accepted by
	// solana.ResolveEndpoint.
	Endpoint   string `mapstructure:"endpoint"`
	Commitment string `mapstructure:"commitment"`

	// RPCRateLimit caps outgoing RPC calls per second, per method. Zero
	// disables client side limiting.
	RPCRateLimit float64 `mapstructure:"rpc_rate_limit"`

	WalletPath            string `mapstructure:"wallet_path"`
	RecreateCorruptWallet bool   `mapstructure:"recreate_corrupt_wallet"`

	AirdropAmount       uint64        `mapstructure:"airdrop_amount"`
	FundingPollInterval time.Duration `mapstructure:"funding_poll_interval"`
	// FundingTimeout bounds the wait for an airdrop to land. Zero waits
	// until the context is cancelled.
	FundingTimeout time.Duration `mapstructure:"funding_timeout"`

	Decimals                  uint8 `mapstructure:"decimals"`
	UseAssociatedTokenAccount bool  `mapstructure:"use_associated_token_account"`

	Name                 string          `mapstructure:"name"`
	Symbol               string          `mapstructure:"symbol"`
	URI                  string          `mapstructure:"uri"`
	SellerFeeBasisPoints uint16          `mapstructure:"seller_fee_basis_points"`
	IsMutable            bool            `mapstructure:"is_mutable"`
	Creators             []CreatorConfig `mapstructure:"creators"`

	// ComputeUnitPrice, in micro-lamports, adds a priority fee to every
	// transaction when non-zero.
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
	// MaxAttempts bounds submissions per stage when a submission fails with a
	// network error or is not confirmed in time.
	MaxAttempts uint `mapstructure:"max_attempts"`
	// Verify reads back the state produced by each stage.
	Verify bool `mapstructure:"verify"`
}

// CreatorConfig is a metadata creator. The wallet is marked verified when it
// is listed, since it signs the metadata transaction.
type CreatorConfig struct {
	Address string `mapstructure:"address"`
	Share   uint8  `mapstructure:"share"`
}

var defaultConfig = Config{
	LogLevel:  "info",
	LogFormat: "text",

	Endpoint:   "devnet",
	Commitment: "confirmed",

	WalletPath: "wallet.json",

	AirdropAmount:       10_000_000_000,
	FundingPollInterval: time.Second,

	Name:      "Solana NFT",
	Symbol:    "NFT",
	URI:       "https://arweave.net/placeholder.json",
	IsMutable: true,

	MaxAttempts: 3,
	Verify:      true,
}

// DefaultConfig returns a copy of the default configuration.
func DefaultConfig() Config {
	return defaultConfig
}

var configKeys = []string{
	"log_level",
	"log_format",
	"endpoint",
	"commitment",
	"rpc_rate_limit",
	"wallet_path",
	"recreate_corrupt_wallet",
	"airdrop_amount",
	"funding_poll_interval",
	"funding_timeout",
	"decimals",
	"use_associated_token_account",
	"name",
	"symbol",
	"uri",
	"seller_fee_basis_points",
	"is_mutable",
	"compute_unit_price",
	"max_attempts",
	"verify",
}

// LoadConfig reads the optional YAML file at path, environment variables
// (NFT_ prefixed, upper cased keys), and overrides, in increasing order of
// precedence, on top of DefaultConfig.
func LoadConfig(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()

	for _, key := range configKeys {
		_ = v.BindEnv(key, "NFT_"+strings.ToUpper(key))
	}

	if len(path) > 0 {
		// An explicitly set config file that doesn't exist is not an error
		// for us, so check before handing it to viper.
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to load config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to check if config %s exists", path)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	config := defaultConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration against the limits of the programs it is
// used with.
func (c *Config) Validate() error {
	if c.Decimals != 0 {
		return errors.Errorf("decimals must be 0 for a non-fungible token, got %d", c.Decimals)
	}
	if len(c.Endpoint) == 0 {
		return errors.New("endpoint is required")
	}
	if _, ok := solana.ParseCommitment(c.Commitment); !ok {
		return errors.Errorf("unknown commitment %q", c.Commitment)
	}
	if len(c.WalletPath) == 0 {
		return errors.New("wallet_path is required")
	}
	if c.AirdropAmount == 0 {
		return errors.New("airdrop_amount must be positive")
	}
	if c.FundingPollInterval <= 0 {
		return errors.New("funding_poll_interval must be positive")
	}
	if c.FundingTimeout < 0 {
		return errors.New("funding_timeout must not be negative")
	}
	if c.MaxAttempts == 0 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.RPCRateLimit < 0 {
		return errors.New("rpc_rate_limit must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("unknown log_format %q", c.LogFormat)
	}

	if len(c.Name) > metadata.MaxNameLength {
		return errors.Errorf("name exceeds %d bytes", metadata.MaxNameLength)
	}
	if len(c.Symbol) > metadata.MaxSymbolLength {
		return errors.Errorf("symbol exceeds %d bytes", metadata.MaxSymbolLength)
	}
	if len(c.URI) > metadata.MaxURILength {
		return errors.Errorf("uri exceeds %d bytes", metadata.MaxURILength)
	}
	if c.SellerFeeBasisPoints > metadata.MaxSellerFeeBasisPoints {
		return errors.Errorf("seller_fee_basis_points exceeds %d", metadata.MaxSellerFeeBasisPoints)
	}

	if len(c.Creators) > 0 {
		if len(c.Creators) > metadata.MaxCreatorLimit {
			return errors.Errorf("at most %d creators are allowed", metadata.MaxCreatorLimit)
		}

		var total int
		seen := make(map[string]struct{})
		for _, creator := range c.Creators {
			decoded, err := base58.Decode(creator.Address)
			if err != nil || len(decoded) != 32 {
				return errors.Errorf("invalid creator address %q", creator.Address)
			}
			if _, ok := seen[creator.Address]; ok {
				return errors.Errorf("duplicate creator %s", creator.Address)
			}
			seen[creator.Address] = struct{}{}
			total += int(creator.Share)
		}
		if total != 100 {
			return errors.Errorf("creator shares must total 100, got %d", total)
		}
	}

	return nil
}
