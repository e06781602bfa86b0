package namefsm

import (
	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/pkg/chainhash"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// Lookup resolves an NS by name hash, returning ok=false if unowned.
// ChainDB supplies this over its name-state table.
type Lookup func(nameHash types.Hash) (NS, bool, error)

// FSM applies covenant-driven transitions to name state. It holds no
// storage itself; ChainDB calls Apply once per covenant output (in tx
// order, then output order, per the block-ordering rule) and persists
// the returned NS plus the accumulated NameUndo.
type FSM struct {
	Params Params
}

// New builds an FSM bound to a set of network timing parameters.
func New(p Params) *FSM {
	return &FSM{Params: p}
}

// Apply computes the name-state effect of a single covenant output,
// returning the new NS and the FieldUndo needed to invert it. lookup
// reads the name's current NS (if any); it must reflect every prior
// Apply call in this same block.
func (f *FSM) Apply(lookup Lookup, in ApplyInput) (NS, FieldUndo, error) {
	if err := in.Covenant.Validate(); err != nil {
		return NS{}, FieldUndo{}, errs.Wrap(errs.Validation, err, "namefsm: apply")
	}

	cur, had, err := lookup(in.NameHash)
	if err != nil {
		return NS{}, FieldUndo{}, err
	}
	undo := FieldUndo{NameHash: in.NameHash, Had: had}
	if had {
		undo.Before = cur.Clone()
	}

	switch in.Covenant.Type {
	case covenant.Claim:
		return f.applyClaim(cur, had, in, undo)
	case covenant.Open:
		return f.applyOpen(cur, had, in, undo)
	case covenant.Bid:
		return f.applyBid(cur, had, in, undo)
	case covenant.Reveal:
		return f.applyReveal(cur, had, in, undo)
	case covenant.Redeem:
		return f.applyRedeem(cur, had, in, undo)
	case covenant.Register:
		return f.applyRegister(cur, had, in, undo)
	case covenant.Update:
		return f.applyUpdate(cur, had, in, undo)
	case covenant.Renew:
		return f.applyRenew(cur, had, in, undo)
	case covenant.Transfer:
		return f.applyTransfer(cur, had, in, undo)
	case covenant.Finalize:
		return f.applyFinalize(cur, had, in, undo)
	case covenant.Revoke:
		return f.applyRevoke(cur, had, in, undo)
	default:
		return NS{}, FieldUndo{}, errs.New(errs.Validation, "namefsm: unsupported covenant type %s", in.Covenant.Type)
	}
}

// Undo reverts a single FieldUndo, returning the NS to restore (or
// reporting that the name should be deleted entirely when it didn't
// exist before the covenant was applied).
func Undo(u FieldUndo) (ns NS, shouldDelete bool) {
	if !u.Had {
		return NS{}, true
	}
	return u.Before, false
}

func (f *FSM) applyClaim(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if had && cur.Height != 0 {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: CLAIM on already-opened name %s", in.Name)
	}
	ns := NS{
		NameHash:   in.NameHash,
		Name:       in.Name,
		Height:     0,
		Renewal:    in.Height,
		Owner:      in.Outpoint,
		Highest:    0,
		Value:      0,
		Claimed:    1,
		Registered: true,
	}
	return ns, undo, nil
}

func (f *FSM) applyOpen(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if had && !f.auctionLapsed(cur, in.Height) {
		return NS{}, FieldUndo{}, errs.New(errs.Conflict, "namefsm: OPEN on %s while a prior auction is still live (double-open)", in.Name)
	}
	ns := NS{
		NameHash: in.NameHash,
		Name:     in.Name,
		Height:   in.Height,
		Owner:    in.Outpoint,
	}
	return ns, undo, nil
}

// auctionLapsed implements the double-open rule: a second OPEN is
// permitted only once biddingPeriod+revealPeriod has passed since the
// prior OPEN height. transferLockup does not factor into this predicate.
func (f *FSM) auctionLapsed(cur NS, height uint32) bool {
	if cur.Registered || cur.Revoked > 0 {
		return true
	}
	return height-cur.Height >= f.Params.BiddingPeriod+f.Params.RevealPeriod
}

func (f *FSM) applyBid(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if !had {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: BID on unopened name %s", in.Name)
	}
	if in.Height-cur.Height >= f.Params.BiddingPeriod {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: BID on %s outside bidding period", in.Name)
	}
	// BID does not mutate NS beyond bookkeeping; the (blind, lockup) pair
	// lives in ChainDB's bid index, keyed by outpoint, not on NS itself.
	return cur, undo, nil
}

func (f *FSM) applyReveal(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if !had {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: REVEAL on unopened name %s", in.Name)
	}
	elapsed := in.Height - cur.Height
	if elapsed < f.Params.BiddingPeriod || elapsed >= f.Params.BiddingPeriod+f.Params.RevealPeriod {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: REVEAL on %s outside reveal period", in.Name)
	}

	newValue := in.Value
	ns := cur.Clone()
	switch {
	case newValue > cur.Highest:
		ns.Value = cur.Highest
		ns.Highest = newValue
		ns.Owner = in.Outpoint
	case newValue > cur.Value:
		ns.Value = newValue
		// Tie on equal value keeps the earlier outpoint (already owner);
		// strictly-greater is required to move the second-highest mark.
	}
	return ns, undo, nil
}

func (f *FSM) applyRedeem(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if !had {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: REDEEM on unknown name %s", in.Name)
	}
	state := cur.State(in.Height, f.Params)
	if state != ClosedExpired && state != ClosedRegistered {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: REDEEM on %s requires a closed auction", in.Name)
	}
	// REDEEM refunds a losing REVEAL; it does not mutate NS.
	return cur, undo, nil
}

func (f *FSM) requireOwner(cur NS, had bool, in ApplyInput, action string) error {
	if !had {
		return errs.New(errs.Consensus, "namefsm: %s on unknown name %s", action, in.Name)
	}
	if cur.Owner != in.SpentFrom {
		return errs.New(errs.Consensus, "namefsm: %s on %s from non-owner input", action, in.Name)
	}
	return nil
}

func (f *FSM) applyRegister(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "REGISTER"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	if cur.Registered {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: REGISTER on already-registered name %s", in.Name)
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Data = covenantData(in.Covenant)
	ns.Renewal = in.Height
	ns.Registered = true
	return ns, undo, nil
}

func (f *FSM) applyUpdate(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "UPDATE"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Data = covenantData(in.Covenant)
	ns.Transfer = 0
	return ns, undo, nil
}

func (f *FSM) applyRenew(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "RENEW"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	if in.Height < cur.Renewal || in.Height-cur.Renewal > f.Params.RenewalWindow {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: RENEW on %s outside renewal window", in.Name)
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Renewal = in.Height
	ns.Renewals++
	return ns, undo, nil
}

func (f *FSM) applyTransfer(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "TRANSFER"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	dest, err := transferDest(in.Covenant)
	if err != nil {
		return NS{}, FieldUndo{}, err
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Transfer = in.Height
	ns.TransferDest = dest
	return ns, undo, nil
}

func (f *FSM) applyFinalize(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "FINALIZE"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	if cur.Transfer == 0 {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: FINALIZE on %s with no active transfer", in.Name)
	}
	if in.Height < cur.Transfer+f.Params.TransferLockup {
		return NS{}, FieldUndo{}, errs.New(errs.Consensus, "namefsm: FINALIZE on %s before transfer lockup elapses", in.Name)
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Transfer = 0
	ns.Renewals++
	ns.Renewal = in.Height
	return ns, undo, nil
}

func (f *FSM) applyRevoke(cur NS, had bool, in ApplyInput, undo FieldUndo) (NS, FieldUndo, error) {
	if err := f.requireOwner(cur, had, in, "REVOKE"); err != nil {
		return NS{}, FieldUndo{}, err
	}
	ns := cur.Clone()
	ns.Owner = in.Outpoint
	ns.Revoked = in.Height
	ns.Transfer = 0
	ns.Data = nil
	return ns, undo, nil
}

func covenantData(c covenant.Covenant) []byte {
	if len(c.Items) < 2 {
		return nil
	}
	return c.Items[1]
}

func transferDest(c covenant.Covenant) (types.Address, error) {
	if len(c.Items) < 2 {
		return types.Address{}, errs.New(errs.Validation, "namefsm: TRANSFER covenant missing destination item")
	}
	item := c.Items[1]
	if len(item) != types.AddressSize {
		return types.Address{}, errs.New(errs.Validation, "namefsm: TRANSFER destination must be %d bytes", types.AddressSize)
	}
	var a types.Address
	copy(a[:], item)
	return a, nil
}

// NameHash is a thin re-export so callers needn't import chainhash
// directly just to key an NS lookup.
func NameHash(name string) types.Hash {
	return chainhash.NameHash(name)
}
