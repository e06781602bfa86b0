// Package covenant defines the name-lifecycle covenant types that a coin's
// output can carry, and the typed item layouts each covenant expects.
// It is the Handshake-specific counterpart of a generic locking script:
// an ordinary coin is locked to an address; a covenant coin additionally
// commits its spend to a specific name-auction action.
package covenant

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Type identifies a name-lifecycle action committed by a covenant output.
type Type uint8

const (
	// None marks a plain, non-covenant output (ordinary address-locked coin).
	None Type = iota
	Claim
	Open
	Bid
	Reveal
	Redeem
	Register
	Update
	Renew
	Transfer
	Finalize
	Revoke
)

// String returns the canonical uppercase name of the covenant type.
func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case Claim:
		return "CLAIM"
	case Open:
		return "OPEN"
	case Bid:
		return "BID"
	case Reveal:
		return "REVEAL"
	case Redeem:
		return "REDEEM"
	case Register:
		return "REGISTER"
	case Update:
		return "UPDATE"
	case Renew:
		return "RENEW"
	case Transfer:
		return "TRANSFER"
	case Finalize:
		return "FINALIZE"
	case Revoke:
		return "REVOKE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// IsName reports whether the covenant carries a name hash as its first item,
// which is true for every type except None.
func (t Type) IsName() bool {
	return t != None
}

// IsLinked reports whether the covenant spends a coin that must itself have
// carried a name covenant (as opposed to OPEN/CLAIM, which originate a name
// lifecycle from a plain or absent prior covenant).
func (t Type) IsLinked() bool {
	switch t {
	case Bid, Reveal, Redeem, Register, Update, Renew, Transfer, Finalize, Revoke:
		return true
	default:
		return false
	}
}

// Covenant is the typed tail of a coin's output: a dispatch byte plus a
// sequence of opaque items whose count and meaning are fixed per Type.
type Covenant struct {
	Type  Type     `json:"type"`
	Items [][]byte `json:"items"`
}

// covenantJSON shadows Covenant so items round-trip as hex strings instead
// of base64, matching the rest of the package's hex-first JSON convention.
type covenantJSON struct {
	Type  Type     `json:"type"`
	Items []string `json:"items"`
}

// MarshalJSON hex-encodes each item.
func (c Covenant) MarshalJSON() ([]byte, error) {
	items := make([]string, len(c.Items))
	for i, it := range c.Items {
		items[i] = hex.EncodeToString(it)
	}
	return json.Marshal(covenantJSON{Type: c.Type, Items: items})
}

// UnmarshalJSON hex-decodes each item.
func (c *Covenant) UnmarshalJSON(data []byte) error {
	var shadow covenantJSON
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	items := make([][]byte, len(shadow.Items))
	for i, s := range shadow.Items {
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("covenant item %d: invalid hex: %w", i, err)
		}
		items[i] = b
	}
	c.Type = shadow.Type
	c.Items = items
	return nil
}

// IsNone reports whether this is a plain, non-covenant output.
func (c Covenant) IsNone() bool {
	return c.Type == None
}

// expectedItemCount is the fixed item-count-per-type table used by
// Validate: every name covenant starts with the name hash, OPEN/BID also
// carry a name length hint and (for BID) a blind commitment, REVEAL
// carries the preimage nonce, TRANSFER carries the destination address.
var expectedItemCount = map[Type]int{
	None:     0,
	Claim:    2, // nameHash, flags
	Open:     2, // nameHash, nameLen
	Bid:      3, // nameHash, nameLen, blind
	Reveal:   2, // nameHash, nonce
	Redeem:   1, // nameHash
	Register: 2, // nameHash, data
	Update:   2, // nameHash, data
	Renew:    1, // nameHash
	Transfer: 2, // nameHash, destAddress
	Finalize: 2, // nameHash, flags
	Revoke:   1, // nameHash
}

// Validate checks the covenant's item count against the fixed layout for
// its type. It does not validate item contents; that is NameFSM's job,
// since interpreting an item requires chain state (e.g. the name's
// current owner).
func (c Covenant) Validate() error {
	want, ok := expectedItemCount[c.Type]
	if !ok {
		return fmt.Errorf("covenant: unknown type %d", uint8(c.Type))
	}
	if len(c.Items) != want {
		return fmt.Errorf("covenant: type %s expects %d items, got %d", c.Type, want, len(c.Items))
	}
	return nil
}

// NameItem returns the name-hash item (always item 0 for name covenants).
// It returns an error for None, which carries no name.
func (c Covenant) NameItem() ([]byte, error) {
	if c.Type == None {
		return nil, fmt.Errorf("covenant: type NONE carries no name item")
	}
	if len(c.Items) == 0 {
		return nil, fmt.Errorf("covenant: type %s has no items", c.Type)
	}
	return c.Items[0], nil
}
