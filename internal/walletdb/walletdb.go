package walletdb

import (
	"encoding/json"
	"sync"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/events"
	"github.com/hnsd-go/hnscore/internal/log"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/internal/wallet"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// WalletDB is one wallet's chain-indexed transaction and coin history.
// Like internal/chaindb, all mutation goes through a single mutex guarding
// one wallet's books. A process running several wallets opens one WalletDB
// per wallet, each over its own store.PrefixDB namespace, so wallets never
// contend on a shared lock.
type WalletDB struct {
	mu  sync.RWMutex
	db  store.DB
	bus *events.Bus
}

// Open loads (or initializes) a WalletDB over db. db should already be
// scoped to this wallet (e.g. via store.NewPrefixDB) if it shares an
// underlying handle with other wallets or with ChainDB.
func Open(db store.DB, bus *events.Bus) (*WalletDB, error) {
	return &WalletDB{db: db, bus: bus}, nil
}

// Watch starts tracking addr: future Insert calls credit outputs paying it.
func (w *WalletDB) Watch(addr types.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Put(watchKey(addr), []byte{1})
}

func (w *WalletDB) isWatched(addr types.Address) (bool, error) {
	return w.db.Has(watchKey(addr))
}

// Insert records a transaction the wallet observed, crediting any outputs
// paying a watched address and debiting any inputs spending a credit this
// wallet already held. blockHash/height are zero for a still-unconfirmed
// (mempool) transaction. Returns the stored WTX, or nil if the
// transaction touches none of our addresses and is not tracked.
func (w *WalletDB) Insert(t *tx.Transaction, blockHash types.Hash, height uint32, timestamp int64) (*WTX, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	txHash := t.Hash()
	wtx := &WTX{Hash: txHash, Raw: t, BlockHash: blockHash, Height: height, Time: timestamp}

	var nameUndos []FieldUndo
	for i, out := range t.Outputs {
		watched, err := w.isWatched(out.Address)
		if err != nil {
			return nil, err
		}
		if !watched {
			continue
		}
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		credit := Credit{Outpoint: op, Value: out.Value, Address: out.Address, Covenant: out.Covenant, Height: height}
		if err := w.putCredit(credit); err != nil {
			return nil, err
		}
		wtx.Credits = append(wtx.Credits, op)

		if out.Covenant.Type != covenant.None {
			if nameItem, err := out.Covenant.NameItem(); err == nil && len(nameItem) == types.HashSize {
				var nameHash types.Hash
				copy(nameHash[:], nameItem)
				fu, err := w.updateNSMirror(nameHash, out.Covenant, op, out.Value, height)
				if err != nil {
					return nil, err
				}
				nameUndos = append(nameUndos, fu)
			}
		}
	}

	for _, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue // coinbase
		}
		credit, ok, err := w.getCreditByOutpoint(in.PrevOut)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		credit.Spent = true
		credit.SpentBy = txHash
		if err := w.putCredit(credit); err != nil {
			return nil, err
		}
		wtx.Debits = append(wtx.Debits, in.PrevOut)
	}

	if len(wtx.Credits) == 0 && len(wtx.Debits) == 0 {
		return nil, nil
	}

	if len(nameUndos) > 0 {
		if err := w.putNameUndo(txHash, nameUndos); err != nil {
			return nil, err
		}
	}

	if err := w.putWTX(wtx); err != nil {
		return nil, err
	}
	if height > 0 {
		if err := w.appendBlockRecord(blockHash, height, txHash); err != nil {
			return nil, err
		}
	}

	if height > 0 {
		w.bus.Publish(events.Event{Kind: events.Confirmed, Data: events.ConfirmedData{Tx: wtx}})
	} else {
		w.bus.Publish(events.Event{Kind: events.Tx, Data: events.TxData{Tx: wtx}})
	}
	w.publishBalanceLocked(wtx)
	log.WalletDB.Debug().Str("tx", txHash.String()).Int("credits", len(wtx.Credits)).Int("debits", len(wtx.Debits)).Uint32("height", height).Msg("inserted transaction")
	return wtx, nil
}

// Confirm moves a previously unconfirmed transaction into a connected
// block. Idempotent if the transaction is already confirmed at this block.
// It only ever bumps Height on credits already recorded by Insert — the
// name-mirror undo for this tx was captured once, at Insert time, and
// doesn't change shape on confirmation, so there is nothing further to
// record here.
func (w *WalletDB) Confirm(txHash types.Hash, blockHash types.Hash, height uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	wtx, ok, err := w.getWTX(txHash)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.NotFound, "walletdb: confirm unknown tx %s", txHash)
	}
	if wtx.Height == height && wtx.BlockHash == blockHash {
		return nil
	}
	wtx.Height = height
	wtx.BlockHash = blockHash
	for _, op := range wtx.Credits {
		credit, ok, err := w.getCreditByOutpoint(op)
		if err != nil {
			return err
		}
		if ok {
			credit.Height = height
			if err := w.putCredit(credit); err != nil {
				return err
			}
		}
	}
	if err := w.putWTX(wtx); err != nil {
		return err
	}
	if err := w.appendBlockRecord(blockHash, height, txHash); err != nil {
		return err
	}
	w.bus.Publish(events.Event{Kind: events.Confirmed, Data: events.ConfirmedData{Tx: wtx}})
	w.publishBalanceLocked(wtx)
	return nil
}

// Disconnect reverts every transaction this wallet confirmed in blockHash
// back to unconfirmed, mirroring ChainDB.Disconnect's per-block undo
// granularity, and replays each one's recorded name-mirror undo through
// namefsm.Undo so a reorged-out BID/REVEAL/REGISTER/etc. doesn't leave a
// stale NS entry behind. Unknown blocks (no tracked transaction confirmed
// there) are a no-op, since most disconnected blocks touch no wallet
// address.
func (w *WalletDB) Disconnect(blockHash types.Hash, height uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := w.db.Get(blockKey(height))
	if errs.Is(err, errs.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var rec BlockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errs.Wrap(errs.Corrupt, err, "walletdb: decode block record")
	}
	if rec.Hash != blockHash {
		return errs.New(errs.Conflict, "walletdb: disconnect hash mismatch at height %d", height)
	}

	for _, txHash := range rec.TxHash {
		wtx, ok, err := w.getWTX(txHash)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		wtx.Height = 0
		wtx.BlockHash = types.Hash{}
		for _, op := range wtx.Credits {
			credit, ok, err := w.getCreditByOutpoint(op)
			if err != nil {
				return err
			}
			if ok {
				credit.Height = 0
				if err := w.putCredit(credit); err != nil {
					return err
				}
			}
		}
		if err := w.revertNameMirror(txHash); err != nil {
			return err
		}
		if err := w.putWTX(wtx); err != nil {
			return err
		}
		w.bus.Publish(events.Event{Kind: events.Unconfirmed, Data: events.UnconfirmedData{Tx: wtx}})
	}
	log.WalletDB.Debug().Uint32("height", height).Str("hash", blockHash.String()).Int("txs", len(rec.TxHash)).Msg("disconnected block")
	return w.db.Delete(blockKey(height))
}

// Erase drops a transaction entirely — a mempool eviction or a losing
// side of a double-spend conflict, not a reorg. Any credits it created
// are removed and any credits it spent are un-marked as spent, since the
// spend never happened from this wallet's perspective once erased. A
// transaction that already spent one of this tx's own credits is erased
// first (eraseLocked recurses): it cannot outlive the credit it depends on.
func (w *WalletDB) Erase(txHash types.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eraseLocked(txHash)
}

func (w *WalletDB) eraseLocked(txHash types.Hash) error {
	wtx, ok, err := w.getWTX(txHash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, op := range wtx.Credits {
		if int(op.Index) >= len(wtx.Raw.Outputs) {
			continue
		}
		addr := wtx.Raw.Outputs[op.Index].Address
		credit, ok, err := w.getCredit(addr, op)
		if err != nil {
			return err
		}
		if ok && credit.Spent {
			if err := w.eraseLocked(credit.SpentBy); err != nil {
				return err
			}
		}
	}

	for _, op := range wtx.Credits {
		if int(op.Index) >= len(wtx.Raw.Outputs) {
			continue
		}
		addr := wtx.Raw.Outputs[op.Index].Address
		if err := w.db.Delete(creditKey(addr, op)); err != nil {
			return err
		}
	}
	for _, op := range wtx.Debits {
		credit, ok, err := w.getCreditByOutpoint(op)
		if err != nil {
			return err
		}
		if ok && credit.SpentBy == txHash {
			credit.Spent = false
			credit.SpentBy = types.Hash{}
			if err := w.putCredit(credit); err != nil {
				return err
			}
		}
	}
	if err := w.revertNameMirror(txHash); err != nil {
		return err
	}
	if err := w.db.Delete(txKey(txHash)); err != nil {
		return err
	}
	w.bus.Publish(events.Event{Kind: events.RemoveTx, Data: events.RemoveTxData{Tx: wtx}})
	return nil
}

// GetBalance sums this wallet's coins and transactions for addr across
// four value buckets (confirmed/unconfirmed spendable, confirmed/
// unconfirmed locked), plus transaction and live-coin counts.
func (w *WalletDB) GetBalance(addr types.Address) (wallet.Balance, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.getBalanceLocked(addr)
}

// ListUTXOs returns this wallet's unspent, covenant-free outputs for addr,
// ready for internal/wallet.SelectCoins.
func (w *WalletDB) ListUTXOs(addr types.Address) ([]wallet.UTXO, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []wallet.UTXO
	err := store.ForEachPrefix(w.db, creditPrefixForAddr(addr), func(_, value []byte) error {
		var c Credit
		if err := json.Unmarshal(value, &c); err != nil {
			return errs.Wrap(errs.Corrupt, err, "walletdb: decode credit")
		}
		if c.Spent {
			return nil
		}
		out = append(out, wallet.UTXO{Outpoint: c.Outpoint, Value: c.Value, Address: c.Address, Covenant: c.Covenant})
		return nil
	})
	return out, err
}

// --- name-auction bookkeeping ---

// HasOpenClaim reports whether this wallet already has a live OPEN/BID on
// nameHash: a wallet should refuse to build a second OPEN for a name it is
// already bidding on, even before the chain would reject it for the same
// reason.
func (w *WalletDB) HasOpenClaim(nameHash types.Hash) (OpenClaim, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	raw, err := w.db.Get(openClaimKey(nameHash))
	if errs.Is(err, errs.NotFound) {
		return OpenClaim{}, false, nil
	}
	if err != nil {
		return OpenClaim{}, false, err
	}
	var c OpenClaim
	if err := json.Unmarshal(raw, &c); err != nil {
		return OpenClaim{}, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode open claim")
	}
	return c, true, nil
}

// RecordOpenClaim stages this wallet's own OPEN/BID on a name, for the
// double-open guard above. ClearOpenClaim removes it once the name
// resolves (REGISTER, REVOKE, or the auction lapsing unregistered).
func (w *WalletDB) RecordOpenClaim(c OpenClaim) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return w.db.Put(openClaimKey(c.NameHash), raw)
}

func (w *WalletDB) ClearOpenClaim(nameHash types.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Delete(openClaimKey(nameHash))
}

// SaveBlindValue stores the (value, nonce) pair behind a bid this wallet
// placed, keyed by the blind hash, so a later REVEAL can be constructed
// without re-deriving it.
func (w *WalletDB) SaveBlindValue(v BlindValue) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.db.Put(blindValueKey(v.Blind), raw)
}

func (w *WalletDB) LookupBlindValue(blind types.Hash) (BlindValue, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	raw, err := w.db.Get(blindValueKey(blind))
	if errs.Is(err, errs.NotFound) {
		return BlindValue{}, false, nil
	}
	if err != nil {
		return BlindValue{}, false, err
	}
	var v BlindValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return BlindValue{}, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode blind value")
	}
	return v, true, nil
}

// RecordBlindBid and RecordBidReveal track bids observed on chain
// (ours or someone else's) against a name, so a wallet displaying an
// auction's state doesn't need to replay the chain to find them again.
func (w *WalletDB) RecordBlindBid(b BlindBid) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return w.db.Put(blindBidKey(b.NameHash, b.Outpoint), raw)
}

func (w *WalletDB) RecordBidReveal(r BidReveal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return w.db.Put(bidRevealKey(r.NameHash, r.Outpoint), raw)
}

// --- internal helpers ---

func (w *WalletDB) putWTX(wtx *WTX) error {
	raw, err := json.Marshal(wtx)
	if err != nil {
		return err
	}
	return w.db.Put(txKey(wtx.Hash), raw)
}

func (w *WalletDB) getWTX(hash types.Hash) (*WTX, bool, error) {
	raw, err := w.db.Get(txKey(hash))
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var wtx WTX
	if err := json.Unmarshal(raw, &wtx); err != nil {
		return nil, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode tx")
	}
	return &wtx, true, nil
}

func (w *WalletDB) getCredit(addr types.Address, op types.Outpoint) (Credit, bool, error) {
	raw, err := w.db.Get(creditKey(addr, op))
	if errs.Is(err, errs.NotFound) {
		return Credit{}, false, nil
	}
	if err != nil {
		return Credit{}, false, err
	}
	var c Credit
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credit{}, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode credit")
	}
	return c, true, nil
}

func (w *WalletDB) putCredit(c Credit) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return w.db.Put(creditKey(c.Address, c.Outpoint), raw)
}

// getCreditByOutpoint scans the credit table for an outpoint without
// knowing its owning address up front (an input only carries the
// outpoint it spends). A wallet's live credit set is small enough that a
// linear scan here is simpler and no slower in practice than maintaining
// a second outpoint->address index purely to avoid it.
func (w *WalletDB) getCreditByOutpoint(op types.Outpoint) (Credit, bool, error) {
	var found Credit
	var ok bool
	err := store.ForEachPrefix(w.db, prefixCredit, func(_, value []byte) error {
		if ok {
			return nil
		}
		var c Credit
		if err := json.Unmarshal(value, &c); err != nil {
			return errs.Wrap(errs.Corrupt, err, "walletdb: decode credit")
		}
		if c.Outpoint == op {
			found, ok = c, true
		}
		return nil
	})
	return found, ok, err
}

func (w *WalletDB) appendBlockRecord(blockHash types.Hash, height uint32, txHash types.Hash) error {
	raw, err := w.db.Get(blockKey(height))
	var rec BlockRecord
	if errs.Is(err, errs.NotFound) {
		rec = BlockRecord{Hash: blockHash, Height: height}
	} else if err != nil {
		return err
	} else if err := json.Unmarshal(raw, &rec); err != nil {
		return errs.Wrap(errs.Corrupt, err, "walletdb: decode block record")
	}
	for _, h := range rec.TxHash {
		if h == txHash {
			return nil
		}
	}
	rec.TxHash = append(rec.TxHash, txHash)
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.db.Put(blockKey(height), out)
}

func (w *WalletDB) publishBalanceLocked(wtx *WTX) {
	seen := make(map[types.Address]bool)
	for _, op := range wtx.Credits {
		c, ok, err := w.getCreditByOutpoint(op)
		if err != nil || !ok || seen[c.Address] {
			continue
		}
		seen[c.Address] = true
		if bal, err := w.getBalanceLocked(c.Address); err == nil {
			w.bus.Publish(events.Event{Kind: events.Balance, Data: events.BalanceData{Address: c.Address, Balance: bal}})
		}
	}
}

// getBalanceLocked computes the balance for addr; the caller must already
// hold w.mu (for reading or writing). Every covenant-bearing coin is
// bucketed by its own confirmation state alongside spendable coins,
// rather than pooled into one Locked total, so uLocked and cLocked track
// in parallel exactly like Confirmed and Unconfirmed do. This needs no
// separate per-covenant transition table: a BID credit locks its blind
// value; spending it marks that credit Spent (dropping out of every
// bucket) and credits the resulting REVEAL/REDEEM/REGISTER output in its
// place, which is picked up the same way on the next read.
func (w *WalletDB) getBalanceLocked(addr types.Address) (wallet.Balance, error) {
	var bal wallet.Balance
	txs := make(map[types.Hash]bool)
	err := store.ForEachPrefix(w.db, creditPrefixForAddr(addr), func(_, value []byte) error {
		var c Credit
		if err := json.Unmarshal(value, &c); err != nil {
			return errs.Wrap(errs.Corrupt, err, "walletdb: decode credit")
		}
		txs[c.Outpoint.TxID] = true
		if c.Spent {
			txs[c.SpentBy] = true
			return nil
		}
		bal.CoinCount++
		u := wallet.UTXO{Outpoint: c.Outpoint, Value: c.Value, Address: c.Address, Covenant: c.Covenant}
		switch {
		case !u.Spendable() && c.Height > 0:
			bal.ConfirmedLocked += c.Value
		case !u.Spendable():
			bal.UnconfirmedLocked += c.Value
		case c.Height > 0:
			bal.Confirmed += c.Value
		default:
			bal.Unconfirmed += c.Value
		}
		return nil
	})
	bal.TxCount = len(txs)
	return bal, err
}
