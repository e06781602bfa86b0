package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/hnsd-go/hnscore/pkg/block"
	"github.com/hnsd-go/hnscore/pkg/chainhash"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroBits         = errors.New("bits must be > 0")
	ErrBadBits          = errors.New("block bits does not match expected")
)

// maxUint256 is 2^256 - 1, the loosest possible target.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PoW implements proof-of-work consensus over block.Header.Bits, a
// compact (mantissa, exponent) target encoding in the same layout as
// Bitcoin/Handshake's nBits: the low 3 bytes are the mantissa, the high
// byte is the byte-length of the full target.
type PoW struct {
	InitialBits     uint32 // Starting target (from genesis)
	AdjustInterval  int    // Blocks between difficulty retargets (0 = no adjustment)
	TargetBlockTime int    // Target seconds between blocks

	// BitsFn is called by Prepare to compute the expected bits for a new
	// block. Set by the node operator. If nil, Prepare uses InitialBits.
	BitsFn func(height uint64) uint32

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded (default). Each goroutine searches a
	// strided partition of the nonce space.
	Threads int
}

// NewPoW creates a new PoW engine.
func NewPoW(bits uint32, adjustInterval, targetBlockTime int) (*PoW, error) {
	if bits == 0 {
		return nil, ErrZeroBits
	}
	return &PoW{
		InitialBits:     bits,
		AdjustInterval:  adjustInterval,
		TargetBlockTime: targetBlockTime,
	}, nil
}

// ShouldAdjust returns true if the target should be recalculated at this height.
func (p *PoW) ShouldAdjust(height uint64) bool {
	return height > 0 && p.AdjustInterval > 0 && height%uint64(p.AdjustInterval) == 0
}

// CompactToTarget expands a compact bits value to its full 256-bit target,
// clamped to maxUint256. Layout: byte 0 (MSB) is the target's byte length,
// bytes 1-3 are its three most-significant mantissa bytes.
func CompactToTarget(bits uint32) *big.Int {
	exp := bits >> 24
	mantissa := big.NewInt(int64(bits & 0x007fffff))
	var t *big.Int
	if exp <= 3 {
		t = new(big.Int).Rsh(mantissa, uint(8*(3-exp)))
	} else {
		t = new(big.Int).Lsh(mantissa, uint(8*(exp-3)))
	}
	if t.Sign() <= 0 {
		return big.NewInt(1)
	}
	if t.Cmp(maxUint256) > 0 {
		return new(big.Int).Set(maxUint256)
	}
	return t
}

// TargetToCompact compresses a full target back into its bits encoding.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	bz := target.Bytes()
	exp := uint32(len(bz))
	var mantissa uint32
	switch {
	case exp <= 3:
		mantissa = uint32(new(big.Int).Lsh(target, uint(8*(3-exp))).Uint64())
	default:
		mantissa = uint32(new(big.Int).Rsh(target, uint(8*(exp-3))).Uint64())
	}
	// If the mantissa's top bit is set it would be read as a sign bit;
	// shift down and bump the exponent, matching Bitcoin's nBits rule.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exp++
	}
	return exp<<24 | mantissa
}

// VerifyHeader checks that the block header hash meets the stated target.
// The bits value comes from the header itself; VerifyDifficulty separately
// checks that the stated bits are themselves the expected ones.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header.Bits == 0 {
		return ErrZeroBits
	}
	target := CompactToTarget(header.Bits)
	hash := header.Hash()
	hashInt := new(big.Int).SetBytes(hash[:])
	if hashInt.Cmp(target) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets the block header's bits for mining. If BitsFn is set, it
// computes the expected bits from chain state; otherwise uses InitialBits.
func (p *PoW) Prepare(header *block.Header) error {
	if p.BitsFn != nil {
		header.Bits = p.BitsFn(header.Height)
	} else {
		header.Bits = p.InitialBits
	}
	return nil
}

// Seal mines the block by iterating the nonce until the header hash meets
// the target encoded in its bits.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support. When ctx is
// cancelled, mining stops and ctx.Err() is returned. If Threads > 1, mining
// runs in parallel goroutines with strided nonce partitioning.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.Bits == 0 {
		return ErrZeroBits
	}

	threads := p.Threads
	if threads <= 1 {
		return p.sealSingle(ctx, blk)
	}
	return p.sealParallel(ctx, blk, threads)
}

// signingPrefix returns the header's signing bytes without the trailing
// nonce, so each mining goroutine hashes only the 8 changed bytes per try.
func signingPrefix(h *block.Header) []byte {
	full := h.SigningBytes()
	return full[:len(full)-8]
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	t := CompactToTarget(blk.Header.Bits)
	prefix := signingPrefix(blk.Header)
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
		hash := chainhash.Sum(buf)
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(t) <= 0 {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

// sealParallel mines with multiple goroutines, each searching a strided
// partition of the nonce space (goroutine i starts at nonce=i, step=threads).
func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	t := CompactToTarget(blk.Header.Bits)
	prefix := signingPrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+8)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
				hash := chainhash.Sum(buf)
				hashInt.SetBytes(hash[:])
				if hashInt.Cmp(t) <= 0 {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint64(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExpectedBits computes the correct target bits for a block at the given
// height. prevBits is the bits from the block at height-1 (0 for height
// <= 1). getTimestamp retrieves a block's timestamp by height.
func (p *PoW) ExpectedBits(height uint64, prevBits uint32, getTimestamp func(uint64) (uint64, error)) uint32 {
	if height <= 1 || prevBits == 0 {
		return p.InitialBits
	}
	if !p.ShouldAdjust(height) {
		return prevBits
	}

	interval := uint64(p.AdjustInterval)
	startTS, err := getTimestamp(height - interval)
	if err != nil {
		return prevBits
	}
	endTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevBits
	}

	actual := int64(endTS - startTS)
	expected := int64(p.AdjustInterval) * int64(p.TargetBlockTime)
	return CalcNextBits(prevBits, actual, expected)
}

// VerifyDifficulty checks that a block header's stated bits match the
// expected bits computed from chain history.
func (p *PoW) VerifyDifficulty(header *block.Header, prevBits uint32, getTimestamp func(uint64) (uint64, error)) error {
	expected := p.ExpectedBits(header.Height, prevBits, getTimestamp)
	if header.Bits != expected {
		return fmt.Errorf("%w: height %d has bits %#x, want %#x",
			ErrBadBits, header.Height, header.Bits, expected)
	}
	return nil
}

// CalcNextBits computes the new target bits after a retarget period, by
// scaling the target (not the bits' numeric value) by actual/expected
// time span, clamped to [target/4, target*4] to limit adjustment per
// period, the same bound Bitcoin-family retargeting uses.
func CalcNextBits(currentBits uint32, actualTimeSpan, expectedTimeSpan int64) uint32 {
	if actualTimeSpan <= 0 {
		actualTimeSpan = 1
	}
	if expectedTimeSpan <= 0 {
		expectedTimeSpan = 1
	}

	minSpan := expectedTimeSpan / 4
	if minSpan == 0 {
		minSpan = 1
	}
	maxSpan := expectedTimeSpan * 4
	if actualTimeSpan < minSpan {
		actualTimeSpan = minSpan
	}
	if actualTimeSpan > maxSpan {
		actualTimeSpan = maxSpan
	}

	target := CompactToTarget(currentBits)
	act := big.NewInt(actualTimeSpan)
	exp := big.NewInt(expectedTimeSpan)
	target.Mul(target, act)
	target.Div(target, exp)
	if target.Sign() <= 0 {
		target = big.NewInt(1)
	}
	if target.Cmp(maxUint256) > 0 {
		target = new(big.Int).Set(maxUint256)
	}
	return TargetToCompact(target)
}
