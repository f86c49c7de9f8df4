package metadata

import (
	"crypto/ed25519"

	"github.com/code-payments/nft-minter/pkg/solana"
)

var (
	MetadataPrefix = []byte("metadata")
	EditionSuffix  = []byte("edition")
)

// GetMetadataAddress returns the metadata account address for mint.
//
// Seeds: ["metadata", program id, mint]
func GetMetadataAddress(mint ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		ProgramKey,
		MetadataPrefix,
		ProgramKey,
		mint,
	)
}

// GetMasterEditionAddress returns the master edition account address for mint.
//
// Seeds: ["metadata", program id, mint, "edition"]
func GetMasterEditionAddress(mint ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		ProgramKey,
		MetadataPrefix,
		ProgramKey,
		mint,
		EditionSuffix,
	)
}
