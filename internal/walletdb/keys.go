package walletdb

import (
	"encoding/binary"

	"github.com/hnsd-go/hnscore/pkg/types"
)

var (
	prefixTx         = []byte("t") // t<txid>             -> WTX
	prefixCredit     = []byte("c") // c<addr><txid><index> -> Credit
	prefixBlock      = []byte("b") // b<height BE>         -> BlockRecord
	prefixWatch      = []byte("w") // w<addr>              -> presence marker
	prefixOpenClaim  = []byte("o") // o<namehash>          -> OpenClaim
	prefixBlindValue = []byte("v") // v<blindhash>         -> BlindValue
	prefixBlindBid   = []byte("i") // i<namehash><outpoint> -> BlindBid
	prefixBidReveal  = []byte("r") // r<namehash><outpoint> -> BidReveal
	prefixNS         = []byte("A") // A<namehash>          -> namefsm.NS mirror
	prefixNameUndo   = []byte("U") // U<txid>              -> []namefsm.FieldUndo
)

func txKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixTx...), hash[:]...)
}

func creditKey(addr types.Address, op types.Outpoint) []byte {
	k := append([]byte{}, prefixCredit...)
	k = append(k, addr[:]...)
	k = append(k, op.TxID[:]...)
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, op.Index)
	return append(k, idx...)
}

func creditPrefixForAddr(addr types.Address) []byte {
	k := append([]byte{}, prefixCredit...)
	return append(k, addr[:]...)
}

func blockKey(height uint32) []byte {
	k := append([]byte{}, prefixBlock...)
	h := make([]byte, 4)
	binary.BigEndian.PutUint32(h, height)
	return append(k, h...)
}

func watchKey(addr types.Address) []byte {
	return append(append([]byte{}, prefixWatch...), addr[:]...)
}

func openClaimKey(nameHash types.Hash) []byte {
	return append(append([]byte{}, prefixOpenClaim...), nameHash[:]...)
}

func blindValueKey(blind types.Hash) []byte {
	return append(append([]byte{}, prefixBlindValue...), blind[:]...)
}

func outpointBidKey(prefix []byte, nameHash types.Hash, op types.Outpoint) []byte {
	k := append([]byte{}, prefix...)
	k = append(k, nameHash[:]...)
	k = append(k, op.TxID[:]...)
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, op.Index)
	return append(k, idx...)
}

func blindBidKey(nameHash types.Hash, op types.Outpoint) []byte {
	return outpointBidKey(prefixBlindBid, nameHash, op)
}

func bidRevealKey(nameHash types.Hash, op types.Outpoint) []byte {
	return outpointBidKey(prefixBidReveal, nameHash, op)
}

func nsKey(nameHash types.Hash) []byte {
	return append(append([]byte{}, prefixNS...), nameHash[:]...)
}

func nameUndoKey(txHash types.Hash) []byte {
	return append(append([]byte{}, prefixNameUndo...), txHash[:]...)
}
