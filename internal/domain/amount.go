package domain

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// MaxAmount is the largest representable token amount, 2^96 - 1. Amounts are
// modeled after the 96-bit quantities the settlement ledger uses on the wire;
// anything wider is rejected at the boundary rather than silently truncated.
var MaxAmount = func() Amount {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	v.SubUint64(v, 1)
	return Amount{v: *v}
}()

// Amount is a non-negative token quantity bounded to 96 bits. The zero value
// is a valid zero amount. All arithmetic is overflow-checked; operations that
// would leave the 96-bit range fail with ErrArithmeticOverflow instead of
// wrapping.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding the given unsigned value.
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// ParseAmount parses a base-10 string into an Amount.
func ParseAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	a := Amount{v: *v}
	if a.v.Gt(&MaxAmount.v) {
		return Amount{}, fmt.Errorf("domain: parse amount %q: %w", s, ErrArithmeticOverflow)
	}
	return a, nil
}

// Add returns a + b, or ErrArithmeticOverflow if the sum exceeds MaxAmount.
func (a Amount) Add(b Amount) (Amount, error) {
	var sum Amount
	if _, carry := sum.v.AddOverflow(&a.v, &b.v); carry || sum.v.Gt(&MaxAmount.v) {
		return Amount{}, ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns a - b, or ErrArithmeticOverflow if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b.v.Gt(&a.v) {
		return Amount{}, ErrArithmeticOverflow
	}
	var diff Amount
	diff.v.Sub(&a.v, &b.v)
	return diff, nil
}

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to, or
// greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Uint64 returns the amount as a uint64. It panics if the value does not fit;
// callers that accept external input should compare against MaxAmount or keep
// the Amount opaque instead.
func (a Amount) Uint64() uint64 {
	if !a.v.IsUint64() {
		panic("domain: amount exceeds uint64")
	}
	return a.v.Uint64()
}

// Bytes32 returns the amount as a 32-byte big-endian word, the layout used by
// the commitment encoding.
func (a Amount) Bytes32() [32]byte {
	return a.v.Bytes32()
}

// String returns the base-10 representation.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a decimal string so 96-bit values survive
// JSON number precision limits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an amount from either a decimal string or a bare
// JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Fall back to a bare number literal.
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
