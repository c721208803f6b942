package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CommitmentLen is the byte length of a bid commitment: a Keccak-256 digest
// truncated to 160 bits, the storage-optimized width the settlement ledger
// encodes on the wire.
const CommitmentLen = 20

// Commitment is the opaque hash a bidder publishes during the bidding window.
// It binds (nonce, bid value, asset collection, asset instance, auction
// index) without revealing any of them.
type Commitment [CommitmentLen]byte

// IsZero reports whether the commitment is the all-zero value.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// Hex returns the 0x-prefixed hex encoding.
func (c Commitment) Hex() string {
	return "0x" + hex.EncodeToString(c[:])
}

// ParseCommitment decodes a 0x-prefixed 20-byte hex string.
func ParseCommitment(s string) (Commitment, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Commitment{}, fmt.Errorf("domain: parse commitment: %w", err)
	}
	if len(raw) != CommitmentLen {
		return Commitment{}, fmt.Errorf("domain: parse commitment: want %d bytes, got %d", CommitmentLen, len(raw))
	}
	var c Commitment
	copy(c[:], raw)
	return c, nil
}

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Hex())
}

// UnmarshalJSON decodes a commitment from a hex string.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCommitment(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Nonce is the 32-byte secret a bidder keeps until the reveal window. Only
// the bidder holds it; a commitment cannot be reconstructed without it.
type Nonce [32]byte

// NonceFromString packs a short string into a Nonce, zero-padded on the
// right. Useful for tests and manual tooling; production clients should use
// 32 random bytes.
func NonceFromString(s string) Nonce {
	var n Nonce
	copy(n[:], s)
	return n
}

// Hex returns the 0x-prefixed hex encoding.
func (n Nonce) Hex() string {
	return "0x" + hex.EncodeToString(n[:])
}

// ParseNonce decodes a 0x-prefixed 32-byte hex string.
func ParseNonce(s string) (Nonce, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Nonce{}, fmt.Errorf("domain: parse nonce: %w", err)
	}
	if len(raw) != len(Nonce{}) {
		return Nonce{}, fmt.Errorf("domain: parse nonce: want %d bytes, got %d", len(Nonce{}), len(raw))
	}
	var n Nonce
	copy(n[:], raw)
	return n, nil
}

// Bid is one bidder's sealed bid in one auction instance. It is created on
// commit, mutated on reveal, and conceptually destroyed (collateral zeroed)
// once withdrawn.
type Bid struct {
	Bidder     common.Address `json:"bidder"`
	Commitment Commitment     `json:"commitment"`
	Collateral Amount         `json:"collateral"`
	Revealed   bool           `json:"revealed"`
	Withdrawn  bool           `json:"withdrawn"`
}
