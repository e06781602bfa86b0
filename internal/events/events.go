// Package events implements the typed publish/subscribe bus ChainDB and
// WalletDB use to notify a node client (internal/nodeclient) and any
// wallet frontend of state changes. A single typed bus replaces a
// per-callback SetXHandler idiom so new event kinds don't require a new
// field and setter on every producer.
package events

import (
	"sync"

	"github.com/hnsd-go/hnscore/internal/wallet"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// Kind identifies an event's shape. Handlers are registered per Kind.
type Kind string

const (
	Connect              Kind = "connect"               // {Entry, Txs}
	Disconnect           Kind = "disconnect"             // {Entry}
	Reorganize           Kind = "reorganize"             // {Tip, Competitor}
	TreeCommit           Kind = "tree_commit"            // {Root, Entry}
	TreeCompactStart     Kind = "tree_compact_start"      // {Root, Entry}
	TreeCompactEnd       Kind = "tree_compact_end"        // {Root, Entry}
	TreeReconstructStart Kind = "tree_reconstruct_start"
	TreeReconstructEnd   Kind = "tree_reconstruct_end"
	Tx                   Kind = "tx"          // {Tx}
	Confirmed            Kind = "confirmed"   // {Tx}
	Unconfirmed          Kind = "unconfirmed" // {Tx}
	RemoveTx             Kind = "remove_tx"   // {Tx}
	Balance              Kind = "balance"     // {Address, Balance}
	Conflict             Kind = "conflict"    // {Tx, ConflictedBy}
)

// Event is one notification carried on the bus. Data's concrete type
// depends on Kind; see the constants above for the expected shape.
type Event struct {
	Kind Kind
	Data any
}

// Payload types for the wallet-side event kinds. WalletDB populates these
// as Data on the matching Kind. Tx/ConflictedBy fields use any to avoid an
// import cycle (internal/walletdb imports internal/events), except
// Balance, which can be concrete since internal/wallet has no dependency
// on internal/events.
type (
	// TxData accompanies Tx: a new transaction touching a watched address
	// was seen, confirmed or not.
	TxData struct {
		Tx any // *walletdb.WTX
	}
	// ConfirmedData accompanies Confirmed: a previously unconfirmed
	// transaction is now in a connected block.
	ConfirmedData struct {
		Tx any // *walletdb.WTX
	}
	// UnconfirmedData accompanies Unconfirmed: a confirmed transaction's
	// block was disconnected, returning it to the mempool view.
	UnconfirmedData struct {
		Tx any // *walletdb.WTX
	}
	// RemoveTxData accompanies RemoveTx: a transaction was evicted
	// entirely (conflict or mempool expiry), not just unconfirmed.
	RemoveTxData struct {
		Tx any // *walletdb.WTX
	}
	// BalanceData accompanies Balance: a watched address's balance changed.
	BalanceData struct {
		Address types.Address
		Balance wallet.Balance
	}
	// ConflictData accompanies Conflict: two transactions were observed
	// spending the same outpoint.
	ConflictData struct {
		Tx           any // *walletdb.WTX
		ConflictedBy any // *walletdb.WTX
	}
)

// Payload types for the chain-side event kinds. ChainDB populates these as
// Data on the matching Kind.
type (
	// ConnectData accompanies Connect: a block was applied to the tip.
	ConnectData struct {
		Entry any // chaindb.Entry; declared any here to avoid an import cycle
		Txs   any // []*tx.Transaction
	}
	// DisconnectData accompanies Disconnect: a block was rolled back.
	DisconnectData struct {
		Entry any // chaindb.Entry
	}
	// ReorganizeData accompanies Reorganize: the tip moved to a competing branch.
	ReorganizeData struct {
		Tip        any // chaindb.Entry, the new tip
		Competitor any // chaindb.Entry, the abandoned tip
	}
	// TreeCommitData accompanies TreeCommit: the name tree committed a new root.
	TreeCommitData struct {
		Root  types.Hash
		Entry any // chaindb.Entry
	}
	// TreeCompactData accompanies TreeCompactStart/TreeCompactEnd.
	TreeCompactData struct {
		Root  types.Hash
		Entry any // chaindb.Entry
	}
)

// Handler receives every Event published for the Kind it subscribed to.
// Handlers run synchronously on the publisher's goroutine, matching the
// teacher's direct-call callback model — a slow handler blocks the
// caller that raised the event, so handlers must not block on I/O.
type Handler func(Event)

// Bus is a typed, in-process publish/subscribe bus. The zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers h to run on every future Publish of kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish runs every handler subscribed to e.Kind, in registration order.
// Publish is a no-op if b is nil, so producers can hold an optional *Bus
// without a nil check at every call site.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Kind]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}
