package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// AmountBits is the width of every token amount and counter stored in a GameState.
const AmountBits = 128

// ErrOverflow is returned when an Amount operation leaves the 128-bit range.
var ErrOverflow = errors.New("arithmetic overflow")

// Amount is an unsigned 128-bit quantity. The zero value is 0.
// Arithmetic never wraps: every operation reports ErrOverflow instead.
type Amount struct {
	v uint256.Int
}

// MaxAmount is 2^128 - 1.
var MaxAmount = func() Amount {
	var a Amount
	a.v.Lsh(uint256.NewInt(1), AmountBits)
	a.v.SubUint64(&a.v, 1)
	return a
}()

// NewAmount returns an Amount holding x.
func NewAmount(x uint64) Amount {
	var a Amount
	a.v.SetUint64(x)
	return a
}

// ParseAmount parses a base-10 string.
func ParseAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if v.BitLen() > AmountBits {
		return Amount{}, fmt.Errorf("amount %q: %w", s, ErrOverflow)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.BitLen() > AmountBits {
		return Amount{}, fmt.Errorf("%s + %s: %w", a, b, ErrOverflow)
	}
	return out, nil
}

// Mul returns a*b.
func (a Amount) Mul(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, &b.v); overflow || out.v.BitLen() > AmountBits {
		return Amount{}, fmt.Errorf("%s * %s: %w", a, b, ErrOverflow)
	}
	return out, nil
}

// Sub returns a-b, failing when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, fmt.Errorf("%s - %s: %w", a, b, ErrOverflow)
	}
	return out, nil
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Uint64 returns the value and whether it fit into 64 bits.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// String renders the amount in base 10.
func (a Amount) String() string { return a.v.Dec() }

// MarshalJSON encodes the amount as a decimal string so clients never lose precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalYAML and UnmarshalYAML let config files carry amounts as plain numbers or strings.
func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a *Amount) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
