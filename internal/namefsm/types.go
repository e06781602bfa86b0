// Package namefsm implements the name-auction state machine: the
// per-name lifecycle UNOWNED -> OPENING -> BIDDING -> REVEALING -> CLOSED
// {REGISTERED, EXPIRED, REVOKED}, driven by covenant-typed coin outputs.
package namefsm

import (
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// State is a name's coarse auction phase, derived from NS fields rather
// than stored directly.
type State int

const (
	Unowned State = iota
	Opening
	Bidding
	Revealing
	ClosedRegistered
	ClosedExpired
	ClosedRevoked
)

func (s State) String() string {
	switch s {
	case Unowned:
		return "UNOWNED"
	case Opening:
		return "OPENING"
	case Bidding:
		return "BIDDING"
	case Revealing:
		return "REVEALING"
	case ClosedRegistered:
		return "CLOSED_REGISTERED"
	case ClosedExpired:
		return "CLOSED_EXPIRED"
	case ClosedRevoked:
		return "CLOSED_REVOKED"
	default:
		return "UNKNOWN"
	}
}

// Params are the network-level timing constants a name's phase transitions
// are computed against.
type Params struct {
	BiddingPeriod   uint32
	RevealPeriod    uint32
	TreeInterval    uint32
	TransferLockup  uint32
	RenewalWindow   uint32
	RevokeLockup    uint32
	ClaimPeriod     uint32
}

// NS is the persisted name-state record, keyed by name hash in both
// ChainDB's table and the authenticated tree.
type NS struct {
	NameHash      types.Hash
	Name          string
	Height        uint32 // height at which the current auction round started (OPEN height)
	Renewal       uint32
	Owner         types.Outpoint
	Highest       uint64
	Value         uint64
	Data          []byte
	Transfer      uint32 // 0 unless an active TRANSFER->FINALIZE window
	TransferDest  types.Address
	Revoked       uint32 // 0 unless revoked
	Claimed       uint32
	Renewals      uint32
	Weak          bool
	Registered    bool
	ExpiredHeight uint32
}

// Clone returns a deep copy, used to snapshot NS before mutation for undo
// recording.
func (ns NS) Clone() NS {
	out := ns
	if ns.Data != nil {
		out.Data = append([]byte(nil), ns.Data...)
	}
	return out
}

// State computes the coarse phase of an NS at the given height.
func (ns NS) State(height uint32, p Params) State {
	if ns.Revoked > 0 {
		return ClosedRevoked
	}
	if ns.Registered {
		if height > ns.Renewal+p.RenewalWindow {
			return ClosedExpired
		}
		return ClosedRegistered
	}
	if ns.Height == 0 {
		return Unowned
	}
	elapsed := height - ns.Height
	switch {
	case elapsed < p.BiddingPeriod:
		return Bidding
	case elapsed < p.BiddingPeriod+p.RevealPeriod:
		return Revealing
	default:
		// Auction lapsed with no REGISTER: closed-but-unregistered, i.e.
		// open for a fresh OPEN per the double-open rule.
		return ClosedExpired
	}
}

// BlindBid is the wallet-visible record of a placed (not yet revealed) bid.
type BlindBid struct {
	NameHash types.Hash
	Outpoint types.Outpoint
	Blind    types.Hash
	Lockup   uint64
	Height   uint32
}

// BidReveal records a revealed bid's real value, as seen on
// chain (not necessarily the wallet's own bid).
type BidReveal struct {
	NameHash types.Hash
	Outpoint types.Outpoint
	Value    uint64
	Height   uint32
}

// BlindValue lets a wallet that placed a bid recover the (value, nonce)
// pair it blinded, keyed by the blind hash, so it can construct REVEAL.
type BlindValue struct {
	Blind types.Hash
	Value uint64
	Nonce [32]byte
}

// FieldUndo records one NS field's prior value for a single covenant
// application, used to build the block-level NameUndo.
type FieldUndo struct {
	NameHash types.Hash
	Before   NS
	Had      bool // false if the NameHash had no NS before this covenant
}

// NameUndo is the full set of NS deltas a block produced, in application
// order, so disconnect can replay it in reverse.
type NameUndo struct {
	BlockHash types.Hash
	Entries   []FieldUndo
}

// Apply input bundles what Apply needs beyond the covenant itself: the
// outpoint carrying it, the coin value it locks, the tx/output ordering
// key used for tie-breaks, and (for REVEAL) the input outpoint being
// spent (the original BID).
type ApplyInput struct {
	Name      string
	NameHash  types.Hash
	Covenant  covenant.Covenant
	Outpoint  types.Outpoint // the new coin carrying this covenant
	Value     uint64
	Height    uint32
	TxIndex   uint32
	OutIndex  uint32
	SpentFrom types.Outpoint // the input coin this output's tx spent, for linked covenants
}
