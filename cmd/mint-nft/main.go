package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/code-payments/nft-minter/pkg/nft"
	"github.com/code-payments/nft-minter/pkg/rate"
	"github.com/code-payments/nft-minter/pkg/solana"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
)

// flags
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to an optional YAML config file",
		Value:   "config.yaml",
		EnvVars: []string{"NFT_CONFIG"},
	}
	endpointFlag = &cli.StringFlag{
		Name:  "endpoint",
		Usage: "RPC endpoint URL, or one of devnet, testnet, mainnet-beta, localnet",
	}
	walletFlag = &cli.StringFlag{
		Name:  "wallet",
		Usage: "path to the wallet keypair file",
	}
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "token name",
	}
	symbolFlag = &cli.StringFlag{
		Name:  "symbol",
		Usage: "token symbol",
	}
	uriFlag = &cli.StringFlag{
		Name:  "uri",
		Usage: "URI of the off-chain JSON metadata",
	}
	fundingTimeoutFlag = &cli.DurationFlag{
		Name:  "funding-timeout",
		Usage: "how long to wait for an airdrop to land, 0 waits forever",
	}
	associatedFlag = &cli.BoolFlag{
		Name:  "associated-token-account",
		Usage: "hold the token in the wallet's associated token account",
	}
	recreateWalletFlag = &cli.BoolFlag{
		Name:  "recreate-corrupt-wallet",
		Usage: "replace an unreadable wallet file with a new keypair",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "logrus level (panic, fatal, error, warn, info, debug, trace)",
	}
)

// overrides maps flags to the config keys they override when set.
var overrides = map[string]string{
	endpointFlag.Name:       "endpoint",
	walletFlag.Name:         "wallet_path",
	nameFlag.Name:           "name",
	symbolFlag.Name:         "symbol",
	uriFlag.Name:            "uri",
	fundingTimeoutFlag.Name: "funding_timeout",
	associatedFlag.Name:     "use_associated_token_account",
	recreateWalletFlag.Name: "recreate_corrupt_wallet",
	logLevelFlag.Name:       "log_level",
}

// Exit codes by failure kind.
var exitCodes = map[nft.Kind]int{
	nft.KindUnknown:             1,
	nft.KindLocalIO:             2,
	nft.KindCorruptIdentity:     3,
	nft.KindNetwork:             4,
	nft.KindRejected:            5,
	nft.KindAirdropDenied:       6,
	nft.KindFundingTimeout:      7,
	nft.KindConfirmationTimeout: 8,
	nft.KindCancelled:           130,
}

func main() {
	app := &cli.App{
		Name:    "mint-nft",
		Usage:   "Mint a single edition NFT on a Solana cluster",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			configFlag,
			endpointFlag,
			walletFlag,
			nameFlag,
			symbolFlag,
			uriFlag,
			fundingTimeoutFlag,
			associatedFlag,
			recreateWalletFlag,
			logLevelFlag,
		},
		Action: mintAction,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("failed to run")
	}
}

func mintAction(c *cli.Context) error {
	values := make(map[string]interface{})
	for flag, key := range overrides {
		if c.IsSet(flag) {
			values[key] = c.Value(flag)
		}
	}

	cfg, err := nft.LoadConfig(c.String(configFlag.Name), values)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), 1)
	}
	if err := configureLogging(cfg); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log := logrus.StandardLogger().WithField("type", "cmd/mint-nft")

	client := solana.New(
		solana.ResolveEndpoint(cfg.Endpoint),
		solana.WithRateLimiter(rate.FromRate(cfg.RPCRateLimit)),
		solana.WithMaxRetries(cfg.MaxAttempts),
	)

	minter, err := nft.NewMinter(*cfg, client, nft.WithOutput(os.Stdout))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	defer cancel()

	result, err := minter.Run(ctx)
	printResult(result)
	if err != nil {
		log.WithError(err).WithField("kind", nft.KindOf(err)).Error("run failed")
		return exitError(os.Stdout, err)
	}

	return nil
}

// exitError reports a failed run to w and returns the exit error for the kind
// of failure.
func exitError(w io.Writer, err error) cli.ExitCoder {
	kind := nft.KindOf(err)
	if kind == nft.KindAirdropDenied {
		fmt.Fprintln(w, "Failed to Airdrop funds. Try again later.")
	}

	code, ok := exitCodes[kind]
	if !ok {
		code = exitCodes[nft.KindUnknown]
	}
	return cli.Exit(err.Error(), code)
}

func configureLogging(cfg *nft.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// stdout carries progress lines.
	logrus.SetOutput(os.Stderr)
	return nil
}

func printResult(result *nft.Result) {
	if result == nil {
		return
	}

	printKey := func(label string, value []byte) {
		if len(value) > 0 {
			fmt.Printf("%s: %s\n", label, base58.Encode(value))
		}
	}

	printKey("Mint", result.Mint)
	printKey("Token Account", result.TokenAccount)
	printKey("Metadata", result.Metadata)
	printKey("Master Edition", result.MasterEdition)

	for _, stage := range []nft.Stage{
		nft.StageMint,
		nft.StageTokenAccount,
		nft.StageMintTo,
		nft.StageMetadata,
		nft.StageMasterEdition,
	} {
		if sig, ok := result.Signatures[stage]; ok {
			fmt.Printf("Signature (%s): %s\n", stage, sig.String())
		}
	}
}
