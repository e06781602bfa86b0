package wallet

import "github.com/hnsd-go/hnscore/pkg/types"

// Account represents a derived wallet account: one BIP-44 (change, index)
// leaf and the address it controls.
type Account struct {
	Index   uint32
	Change  uint32
	Name    string
	Address types.Address
}
