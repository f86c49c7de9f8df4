package solana

import "strings"

type Environment string

const (
	EnvironmentLocal Environment = "http://127.0.0.1:8899"
	EnvironmentDev   Environment = "https://api.devnet.solana.com"
	EnvironmentTest  Environment = "https://api.testnet.solana.com"
	EnvironmentProd  Environment = "https://api.mainnet-beta.solana.com"
)

// ResolveEndpoint maps a cluster moniker (localnet, devnet, testnet,
// mainnet-beta) to its public RPC URL. Anything else is treated as a URL and
// returned as-is.
func ResolveEndpoint(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "devnet":
		return string(EnvironmentDev)
	case "localnet", "localhost":
		return string(EnvironmentLocal)
	case "testnet":
		return string(EnvironmentTest)
	case "mainnet", "mainnet-beta":
		return string(EnvironmentProd)
	}
	return value
}

// ParseCommitment returns the commitment for the provided level name.
func ParseCommitment(value string) (Commitment, bool) {
	switch strings.ToLower(value) {
	case confirmationStatusProcessed:
		return CommitmentProcessed, true
	case "", confirmationStatusConfirmed:
		return CommitmentConfirmed, true
	case confirmationStatusFinalized:
		return CommitmentFinalized, true
	}
	return Commitment{}, false
}
