package chaindb

import (
	"encoding/binary"

	"github.com/hnsd-go/hnscore/pkg/types"
)

// Key prefixes. All keys live in a single PrefixDB namespace handed to
// Open, so these need not be globally unique, only unique within
// ChainDB's own keyspace.
var (
	prefixEntry    = []byte("e") // e + hash(32)            -> Entry
	prefixHashToH  = []byte("h") // h + hash(32)             -> height(4 BE)
	prefixHeightH  = []byte("H") // H + height(4 BE)         -> hash(32), main-chain index only
	prefixBlockTxs = []byte("b") // b + hash(32)             -> []types.Hash, tx hashes in block order
	prefixUndo     = []byte("u") // u + hash(32)             -> blockUndo
	prefixCoin     = []byte("c") // c + txid(32) + index(4)  -> Coin
	prefixAddrCoin = []byte("p") // p + addr(20)+txid(32)+index(4) -> empty, address index
	prefixTxLoc    = []byte("t") // t + txid(32)             -> block hash
	prefixTxBody   = []byte("x") // x + txid(32)             -> tx.Transaction, only when txIndex is on
	prefixName     = []byte("A") // A + nameHash(32)         -> NS
	prefixNameUndo = []byte("U") // U + blockHash(32)        -> []namefsm.FieldUndo
	keyTip         = []byte("k") // tip entry hash
	keyState       = []byte("s") // persisted chainState
)

func entryKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixEntry...), hash[:]...)
}

func hashToHeightKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixHashToH...), hash[:]...)
}

func heightKey(height uint32) []byte {
	k := append([]byte{}, prefixHeightH...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], height)
	return append(k, b[:]...)
}

func blockTxsKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixBlockTxs...), hash[:]...)
}

func undoKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixUndo...), hash[:]...)
}

func coinKey(op types.Outpoint) []byte {
	k := append([]byte{}, prefixCoin...)
	k = append(k, op.TxID[:]...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], op.Index)
	return append(k, b[:]...)
}

func addrCoinKey(addr types.Address, op types.Outpoint) []byte {
	k := append([]byte{}, prefixAddrCoin...)
	k = append(k, addr[:]...)
	k = append(k, op.TxID[:]...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], op.Index)
	return append(k, b[:]...)
}

func addrCoinPrefix(addr types.Address) []byte {
	k := append([]byte{}, prefixAddrCoin...)
	return append(k, addr[:]...)
}

func txLocKey(txid types.Hash) []byte {
	return append(append([]byte{}, prefixTxLoc...), txid[:]...)
}

func txBodyKey(txid types.Hash) []byte {
	return append(append([]byte{}, prefixTxBody...), txid[:]...)
}

func nameKey(nameHash types.Hash) []byte {
	return append(append([]byte{}, prefixName...), nameHash[:]...)
}

func nameUndoKey(blockHash types.Hash) []byte {
	return append(append([]byte{}, prefixNameUndo...), blockHash[:]...)
}
