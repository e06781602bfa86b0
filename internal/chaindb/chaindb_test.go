package chaindb

import (
	"testing"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/pkg/chainhash"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

func testParams() namefsm.Params {
	return namefsm.Params{
		BiddingPeriod:  5,
		RevealPeriod:   5,
		TreeInterval:   1,
		TransferLockup: 5,
		RenewalWindow:  100,
		RevokeLockup:   5,
		ClaimPeriod:    100,
	}
}

func openTestDB(t *testing.T) *ChainDB {
	t.Helper()
	cdb, err := Open(store.NewMemory(), testParams(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return cdb
}

func coinbaseTx(value uint64, addr types.Address) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{Value: value, Address: addr}},
	}
}

func TestChainDB_ConnectGenesis_CreatesCoin(t *testing.T) {
	cdb := openTestDB(t)
	addr := types.Address{0x01}
	gtx := coinbaseTx(1000, addr)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}

	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	tip, err := cdb.GetTip()
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if tip.Hash != genesis.Hash {
		t.Errorf("tip = %s, want %s", tip.Hash, genesis.Hash)
	}

	op := types.Outpoint{TxID: gtx.Hash(), Index: 0}
	coin, ok, err := cdb.GetCoin(op)
	if err != nil || !ok {
		t.Fatalf("GetCoin: ok=%v err=%v", ok, err)
	}
	if coin.Value != 1000 || coin.Address != addr || !coin.Coinbase {
		t.Errorf("unexpected coin: %+v", coin)
	}
}

func TestChainDB_ConnectRejectsWrongPrevHash(t *testing.T) {
	cdb := openTestDB(t)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{coinbaseTx(1000, types.Address{0x01})}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	bad := Entry{Hash: types.Hash{0x02}, PrevHash: types.Hash{0xff}, Height: 1}
	if err := cdb.Connect(bad, nil); err == nil {
		t.Error("expected error connecting entry with wrong PrevHash")
	}
}

func TestChainDB_ConnectAndDisconnect_RestoresPriorState(t *testing.T) {
	cdb := openTestDB(t)
	addrA := types.Address{0x01}
	addrB := types.Address{0x02}

	gtx := coinbaseTx(1000, addrA)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}
	genesisOp := types.Outpoint{TxID: gtx.Hash(), Index: 0}

	spend := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: genesisOp}},
		Outputs: []tx.Output{{Value: 900, Address: addrB}},
	}
	entry1 := Entry{Hash: types.Hash{0x02}, PrevHash: genesis.Hash, Height: 1}
	if err := cdb.Connect(entry1, []*tx.Transaction{spend}); err != nil {
		t.Fatalf("Connect entry1: %v", err)
	}

	if cdb.HasUTXO(genesisOp) {
		t.Error("genesis coin should be spent after entry1")
	}
	newOp := types.Outpoint{TxID: spend.Hash(), Index: 0}
	if !cdb.HasUTXO(newOp) {
		t.Error("entry1 output should be a live coin")
	}

	disconnected, err := cdb.Disconnect()
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if disconnected.Hash != entry1.Hash {
		t.Errorf("disconnected %s, want %s", disconnected.Hash, entry1.Hash)
	}

	if !cdb.HasUTXO(genesisOp) {
		t.Error("genesis coin should be restored after disconnect")
	}
	if cdb.HasUTXO(newOp) {
		t.Error("entry1 output should be removed after disconnect")
	}

	tip, err := cdb.GetTip()
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if tip.Hash != genesis.Hash {
		t.Errorf("tip after disconnect = %s, want genesis %s", tip.Hash, genesis.Hash)
	}
}

// TestChainDB_OpenCovenant_CommitsTreeWithSingleLeaf exercises the
// namefsm + tree-commit path. With exactly one name ever inserted, the
// tree's sorted-leaf merkle root over a single leaf is that leaf's own
// hash (internal/urkel's merkleRoot short-circuits for len==1), so the
// expected root is computable without re-deriving the tree algorithm.
func TestChainDB_OpenCovenant_CommitsTreeWithSingleLeaf(t *testing.T) {
	cdb := openTestDB(t)
	addrA := types.Address{0x01}

	gtx := coinbaseTx(1000, addrA)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}
	genesisOp := types.Outpoint{TxID: gtx.Hash(), Index: 0}

	nameHash := chainhash.NameHash("example")
	openTx := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: genesisOp}},
		Outputs: []tx.Output{{
			Value:   100,
			Address: addrA,
			Covenant: covenant.Covenant{
				Type:  covenant.Open,
				Items: [][]byte{nameHash[:], {7}},
			},
		}},
	}
	entry1 := Entry{Hash: types.Hash{0x02}, PrevHash: genesis.Hash, Height: 1, TreeRoot: nameHash}
	if err := cdb.Connect(entry1, []*tx.Transaction{openTx}); err != nil {
		t.Fatalf("Connect entry1: %v", err)
	}

	if got := cdb.TreeRoot(); got != nameHash {
		t.Errorf("tree root = %s, want %s", got, nameHash)
	}

	ns, ok, err := cdb.GetNameStatus(nameHash)
	if err != nil || !ok {
		t.Fatalf("GetNameStatus: ok=%v err=%v", ok, err)
	}
	if ns.State(1, cdb.fsm.Params) != namefsm.Bidding {
		t.Errorf("name state = %s, want BIDDING", ns.State(1, cdb.fsm.Params))
	}

	if _, err := cdb.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := cdb.TreeRoot(); !got.IsZero() {
		t.Errorf("tree root after disconnect = %s, want zero", got)
	}
	if _, ok, err := cdb.GetNameStatus(nameHash); err != nil || ok {
		t.Errorf("name status should be gone after disconnect: ok=%v err=%v", ok, err)
	}
}

func TestChainDB_ConnectDoubleOpen_Rejected(t *testing.T) {
	cdb := openTestDB(t)
	addrA := types.Address{0x01}
	gtx := coinbaseTx(2000, addrA)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	nameHash := chainhash.NameHash("taken")
	op1 := types.Outpoint{TxID: gtx.Hash(), Index: 0}
	open1 := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: op1}},
		Outputs: []tx.Output{{
			Value:    100,
			Address:  addrA,
			Covenant: covenant.Covenant{Type: covenant.Open, Items: [][]byte{nameHash[:], {5}}},
		}},
	}
	entry1 := Entry{Hash: types.Hash{0x02}, PrevHash: genesis.Hash, Height: 1, TreeRoot: nameHash}
	if err := cdb.Connect(entry1, []*tx.Transaction{open1}); err != nil {
		t.Fatalf("Connect entry1: %v", err)
	}

	op2 := types.Outpoint{TxID: open1.Hash(), Index: 0}
	open2 := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: op2}},
		Outputs: []tx.Output{{
			Value:    100,
			Address:  addrA,
			Covenant: covenant.Covenant{Type: covenant.Open, Items: [][]byte{nameHash[:], {5}}},
		}},
	}
	entry2 := Entry{Hash: types.Hash{0x03}, PrevHash: entry1.Hash, Height: 2, TreeRoot: nameHash}
	if err := cdb.Connect(entry2, []*tx.Transaction{open2}); err == nil {
		t.Error("expected double-open to be rejected while the auction is still live")
	}
}

func TestChainDB_CompactTree_ChainTooShort(t *testing.T) {
	cdb := openTestDB(t)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{coinbaseTx(1000, types.Address{0x01})}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	err := cdb.CompactTree(5)
	if !errs.Is(err, errs.ChainTooShort) {
		t.Fatalf("CompactTree on a 1-block chain = %v, want ChainTooShort", err)
	}
}

// TestChainDB_CompactTree_RewindsAndResyncs builds a chain that commits a
// single name leaf at height 1 and carries it unchanged through height 5,
// then compacts keeping only the last 3 blocks. The root is constant
// across that range, so this doesn't exercise picking between distinct
// historical roots (internal/urkel's own tests cover Inject's index
// selection) — it exercises that CompactTree's rewind/compact/resync
// sequence leaves the tip, tree root, and name leaf intact.
func TestChainDB_CompactTree_RewindsAndResyncs(t *testing.T) {
	cdb := openTestDB(t)
	addrA := types.Address{0x01}

	gtx := coinbaseTx(100000, addrA)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	nameHash := chainhash.NameHash("compactme")
	openTx := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: gtx.Hash(), Index: 0}}},
		Outputs: []tx.Output{{
			Value:    90000,
			Address:  addrA,
			Covenant: covenant.Covenant{Type: covenant.Open, Items: [][]byte{nameHash[:], {9}}},
		}},
	}
	entry1 := Entry{Hash: types.Hash{0x02}, PrevHash: genesis.Hash, Height: 1, TreeRoot: nameHash}
	if err := cdb.Connect(entry1, []*tx.Transaction{openTx}); err != nil {
		t.Fatalf("Connect entry1: %v", err)
	}

	prevHash := entry1.Hash
	prevOp := types.Outpoint{TxID: openTx.Hash(), Index: 0}
	value := uint64(90000)
	for height := uint32(2); height <= 5; height++ {
		value -= 1000
		plain := &tx.Transaction{
			Version: 1,
			Inputs:  []tx.Input{{PrevOut: prevOp}},
			Outputs: []tx.Output{{Value: value, Address: addrA}},
		}
		hash := types.Hash{byte(height + 1)}
		entry := Entry{Hash: hash, PrevHash: prevHash, Height: height, TreeRoot: nameHash}
		if err := cdb.Connect(entry, []*tx.Transaction{plain}); err != nil {
			t.Fatalf("Connect entry at height %d: %v", height, err)
		}
		prevHash = hash
		prevOp = types.Outpoint{TxID: plain.Hash(), Index: 0}
	}

	tipBefore, err := cdb.GetTip()
	if err != nil {
		t.Fatalf("GetTip before compact: %v", err)
	}

	if err := cdb.CompactTree(3); err != nil {
		t.Fatalf("CompactTree: %v", err)
	}

	tipAfter, err := cdb.GetTip()
	if err != nil {
		t.Fatalf("GetTip after compact: %v", err)
	}
	if tipAfter.Hash != tipBefore.Hash || tipAfter.Height != tipBefore.Height {
		t.Errorf("tip changed by CompactTree: before %+v, after %+v", tipBefore, tipAfter)
	}
	if got := cdb.TreeRoot(); got != nameHash {
		t.Errorf("tree root after compact = %s, want %s", got, nameHash)
	}
	if _, ok, err := cdb.GetNameStatus(nameHash); err != nil || !ok {
		t.Errorf("name leaf should survive compaction: ok=%v err=%v", ok, err)
	}
}

// TestChainDB_Open_ReopenReconcilesCleanly exercises the open-time
// tree/chain-state reconciliation path on the ordinary case where the two
// never diverged, guarding against a regression that would make Open
// start refusing or resyncing on every normal restart.
func TestChainDB_Open_ReopenReconcilesCleanly(t *testing.T) {
	db := store.NewMemory()
	cdb, err := Open(db, testParams(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	addrA := types.Address{0x01}
	gtx := coinbaseTx(1000, addrA)
	genesis := Entry{Hash: types.Hash{0x01}, Height: 0}
	if err := cdb.Connect(genesis, []*tx.Transaction{gtx}); err != nil {
		t.Fatalf("Connect genesis: %v", err)
	}

	nameHash := chainhash.NameHash("reopen")
	openTx := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: gtx.Hash(), Index: 0}}},
		Outputs: []tx.Output{{
			Value:    900,
			Address:  addrA,
			Covenant: covenant.Covenant{Type: covenant.Open, Items: [][]byte{nameHash[:], {3}}},
		}},
	}
	entry1 := Entry{Hash: types.Hash{0x02}, PrevHash: genesis.Hash, Height: 1, TreeRoot: nameHash}
	if err := cdb.Connect(entry1, []*tx.Transaction{openTx}); err != nil {
		t.Fatalf("Connect entry1: %v", err)
	}

	reopened, err := Open(db, testParams(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tip, err := reopened.GetTip()
	if err != nil {
		t.Fatalf("GetTip after reopen: %v", err)
	}
	if tip.Hash != entry1.Hash {
		t.Errorf("tip after reopen = %s, want %s", tip.Hash, entry1.Hash)
	}
	if got := reopened.TreeRoot(); got != nameHash {
		t.Errorf("tree root after reopen = %s, want %s", got, nameHash)
	}
}
