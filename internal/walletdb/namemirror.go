package walletdb

import (
	"encoding/json"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// applyObservedNS folds one name-carrying covenant output into this
// wallet's own NS mirror. It mirrors namefsm's applyXxx field-setting
// logic, but never errors on a precondition the wallet didn't witness: a
// BID on a name this wallet never saw OPENed (someone else's auction), an
// owner mismatch the wallet has no SpentFrom visibility into, and so on.
// WalletDB's mirror is a display cache for "what has this wallet's own
// activity done to names it watches", not a consensus authority, so it
// degrades to a best-effort guess instead of refusing to record the
// output. ChainDB's nameKey table remains the authority for anything that
// actually needs validated name state.
func applyObservedNS(cur NS, had bool, nameHash types.Hash, c covenant.Covenant, op types.Outpoint, value uint64, height uint32) NS {
	ns := cur
	if !had {
		ns = NS{NameHash: nameHash}
	}
	switch c.Type {
	case covenant.Claim:
		ns = NS{NameHash: nameHash, Owner: op, Renewal: height, Claimed: 1, Registered: true}
	case covenant.Open:
		if !had {
			ns.Height = height
		}
		ns.Owner = op
	case covenant.Bid:
		// BID locks a blind value off NS; the wallet's own (value, nonce)
		// pair lives in the blind-value table, not the mirror.
	case covenant.Reveal:
		switch {
		case value > ns.Highest:
			ns.Value = ns.Highest
			ns.Highest = value
			ns.Owner = op
		case value > ns.Value:
			ns.Value = value
		}
	case covenant.Redeem:
		// REDEEM refunds a losing reveal; it does not mutate NS.
	case covenant.Register:
		ns.Owner = op
		ns.Data = covenantData(c)
		ns.Renewal = height
		ns.Registered = true
	case covenant.Update:
		ns.Owner = op
		ns.Data = covenantData(c)
		ns.Transfer = 0
	case covenant.Renew:
		ns.Owner = op
		ns.Renewal = height
		ns.Renewals++
	case covenant.Transfer:
		ns.Owner = op
		ns.Transfer = height
		if dest, ok := transferDest(c); ok {
			ns.TransferDest = dest
		}
	case covenant.Finalize:
		ns.Owner = op
		ns.Transfer = 0
		ns.Renewals++
		ns.Renewal = height
	case covenant.Revoke:
		ns.Owner = op
		ns.Revoked = height
		ns.Transfer = 0
		ns.Data = nil
	}
	return ns
}

func covenantData(c covenant.Covenant) []byte {
	if len(c.Items) < 2 {
		return nil
	}
	return append([]byte(nil), c.Items[1]...)
}

func transferDest(c covenant.Covenant) (types.Address, bool) {
	if len(c.Items) < 2 || len(c.Items[1]) != types.AddressSize {
		return types.Address{}, false
	}
	var a types.Address
	copy(a[:], c.Items[1])
	return a, true
}

// updateNSMirror applies one covenant output to the wallet's NS mirror
// and returns the FieldUndo needed to invert it, in the same shape
// ChainDB's own NameUndo entries take so Disconnect/Erase can revert
// through the real namefsm.Undo.
func (w *WalletDB) updateNSMirror(nameHash types.Hash, c covenant.Covenant, op types.Outpoint, value uint64, height uint32) (FieldUndo, error) {
	cur, had, err := w.getNS(nameHash)
	if err != nil {
		return FieldUndo{}, err
	}
	fu := FieldUndo{NameHash: nameHash, Had: had}
	if had {
		fu.Before = cur.Clone()
	}
	next := applyObservedNS(cur, had, nameHash, c, op, value, height)
	if err := w.putNS(next); err != nil {
		return FieldUndo{}, err
	}
	return fu, nil
}

func (w *WalletDB) getNS(nameHash types.Hash) (NS, bool, error) {
	raw, err := w.db.Get(nsKey(nameHash))
	if errs.Is(err, errs.NotFound) {
		return NS{}, false, nil
	}
	if err != nil {
		return NS{}, false, err
	}
	var ns NS
	if err := json.Unmarshal(raw, &ns); err != nil {
		return NS{}, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode name mirror %s", nameHash)
	}
	return ns, true, nil
}

func (w *WalletDB) putNS(ns NS) error {
	raw, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	return w.db.Put(nsKey(ns.NameHash), raw)
}

// putNameUndo records the per-name FieldUndo list produced while
// inserting txHash, so Disconnect/Erase can unwind the mirror for that
// transaction alone without touching names other transactions touched.
func (w *WalletDB) putNameUndo(txHash types.Hash, undos []FieldUndo) error {
	if len(undos) == 0 {
		return w.db.Delete(nameUndoKey(txHash))
	}
	raw, err := json.Marshal(undos)
	if err != nil {
		return err
	}
	return w.db.Put(nameUndoKey(txHash), raw)
}

func (w *WalletDB) getNameUndo(txHash types.Hash) ([]FieldUndo, bool, error) {
	raw, err := w.db.Get(nameUndoKey(txHash))
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var undos []FieldUndo
	if err := json.Unmarshal(raw, &undos); err != nil {
		return nil, false, errs.Wrap(errs.Corrupt, err, "walletdb: decode name undo %s", txHash)
	}
	return undos, true, nil
}

// revertNameMirror replays txHash's recorded FieldUndo entries in
// reverse through namefsm.Undo — the same function ChainDB's own
// Disconnect uses to unwind its nameKey table — and deletes the index
// entry once applied.
func (w *WalletDB) revertNameMirror(txHash types.Hash) error {
	undos, ok, err := w.getNameUndo(txHash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for i := len(undos) - 1; i >= 0; i-- {
		ns, shouldDelete := namefsm.Undo(undos[i])
		if shouldDelete {
			if err := w.db.Delete(nsKey(undos[i].NameHash)); err != nil {
				return err
			}
			continue
		}
		if err := w.putNS(ns); err != nil {
			return err
		}
	}
	return w.db.Delete(nameUndoKey(txHash))
}
