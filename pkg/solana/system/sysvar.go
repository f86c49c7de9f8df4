package system

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
)

// RentSysVar is the address of the rent sysvar, which the token program reads
// when initializing mints and accounts.
var RentSysVar = mustDecode("SysvarRent111111111111111111111111111111111")

func mustDecode(address string) ed25519.PublicKey {
	key, err := base58.Decode(address)
	if err != nil {
		panic(err)
	}
	return key
}
