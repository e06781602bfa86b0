package wallet

// Balance tracks a wallet's coin and transaction totals for one address,
// split by spendability and confirmation. A bid's blind value is
// spendable in principle but must stay reserved until reveal-or-refund,
// so it is kept out of Confirmed+Unconfirmed entirely rather than folded
// in and later subtracted.
//
// Locked is tracked in the same two confirmation views as the spendable
// totals: UnconfirmedLocked covers a covenant coin whose crediting
// transaction hasn't confirmed yet, ConfirmedLocked one that has. A coin
// moves between these buckets the same way any credit does — its
// covenant-carrying output is spent and a new one credited in its place
// (BID locks the blind value; REVEAL unlocks the prior BID's lockup and
// relocks the true bid; REDEEM unlocks a losing REVEAL back to spendable;
// REGISTER unlocks the winning REVEAL, relocking nothing since the name
// output itself carries no spendable value) — so no separate transition
// table is needed beyond bucketing each live credit by its own covenant
// and confirmation state.
type Balance struct {
	TxCount           int    // transactions touching this address.
	CoinCount         int    // unspent credits, spendable or locked.
	Confirmed         uint64 // spendable, in a block under the tip.
	Unconfirmed       uint64 // spendable, still in the mempool.
	UnconfirmedLocked uint64 // held by a mempool covenant output (uLocked).
	ConfirmedLocked   uint64 // held by a confirmed covenant output (cLocked).
}
