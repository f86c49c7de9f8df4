// Package metadata wraps the Metaplex token metadata program.
//
// Instruction encoding is delegated to github.com/blocto/solana-go-sdk; this
// package converts its instructions into solana.Instruction values, derives
// the program's addresses, and decodes the instructions and accounts the
// program produces.
package metadata

import (
	"crypto/ed25519"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/solana"
)

// ProgramKey is metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s
var ProgramKey = ed25519.PublicKey(common.MetaplexTokenMetaProgramID.Bytes())

var (
	ErrInvalidAccountData     = errors.New("unexpected account data")
	ErrInvalidInstructionData = errors.New("unexpected instruction data")
)

type Command byte

const (
	CommandCreateMasterEditionV3   Command = 17
	CommandCreateMetadataAccountV3 Command = 33
)

// Limits enforced by the program on metadata fields.
const (
	MaxNameLength           = 32
	MaxSymbolLength         = 10
	MaxURILength            = 200
	MaxCreatorLimit         = 5
	MaxSellerFeeBasisPoints = 10000
)

func toInstruction(ixn types.Instruction) solana.Instruction {
	accounts := make([]solana.AccountMeta, len(ixn.Accounts))
	for i, a := range ixn.Accounts {
		accounts[i] = solana.AccountMeta{
			PublicKey:  a.PubKey.Bytes(),
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		}
	}

	return solana.NewInstruction(ixn.ProgramID.Bytes(), ixn.Data, accounts...)
}

func toPublicKey(pub ed25519.PublicKey) common.PublicKey {
	return common.PublicKeyFromBytes(pub)
}
