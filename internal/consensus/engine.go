// Package consensus implements proof-of-work block validation: difficulty
// encoding, target verification, and retargeting. HNS has no validator set
// or stake to track — every block's right to exist is the hash meeting its
// stated target, nothing else.
package consensus

import "github.com/hnsd-go/hnscore/pkg/block"

// Engine is the interface a miner or validating node drives a block
// through: Prepare before mining, VerifyHeader (or Seal, for a miner) to
// satisfy it.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Prepare(header *block.Header) error
	Seal(blk *block.Block) error
}
