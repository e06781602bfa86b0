package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/hnsd-go/hnscore/pkg/chainhash"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound     = errors.New("input UTXO not found")
	ErrInputSpent        = errors.New("input UTXO already spent")
	ErrInsufficientFee   = errors.New("insufficient fee")
	ErrInputOverflow     = errors.New("input values overflow")
	ErrAddressMismatch   = errors.New("pubkey does not match UTXO address")
	ErrUnspendableOutput = errors.New("output is unspendable")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value uint64, addr types.Address, cov covenant.Covenant, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set. It checks that all inputs exist, that the spending pubkey
// matches the UTXO's address, that signatures are valid, and that
// inputs >= outputs. Returns the fee (inputs - outputs).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := tx.ValidateStructure(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		// Coinbase inputs skip UTXO checks.
		if in.PrevOut.IsZero() {
			continue
		}

		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, addr, cov, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		// REVOKE leaves the name unspendable until the re-open window; the
		// coin itself can still be spent by REVOKE's own transaction, but
		// never again afterward.
		if cov.Type == covenant.Revoke {
			return 0, fmt.Errorf("input %d (%s): %w: revoked name output cannot be spent", i, in.PrevOut, ErrUnspendableOutput)
		}

		if err := verifyAddress(in.PubKey, addr); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, ovfErr := tx.TotalOutputValue()
	if ovfErr != nil {
		return 0, fmt.Errorf("output overflow: %w", ovfErr)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	fee := totalInput - totalOutput
	return fee, nil
}

// ValidateStructure checks transaction structure without requiring UTXO access.
// Same as Validate() but renamed for clarity when used alongside ValidateWithUTXOs.
func (tx *Transaction) ValidateStructure() error {
	return tx.Validate()
}

// verifyAddress checks that a public key hashes to the expected address.
func verifyAddress(pubKey []byte, expected types.Address) error {
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}
	derived := chainhash.AddressFromPubKey(pubKey)
	if expected != derived {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, expected, derived)
	}
	return nil
}
