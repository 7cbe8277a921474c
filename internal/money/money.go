// Package money provides the fixed-point decimal amount type shared by the
// ledger's aggregates, projections, and storage layer.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest magnitude any single Amount may hold, matching
// the NUMERIC(20,8) column bound on account_balances and ledger_entries.
var MaxAmount = decimal.RequireFromString("1000000000000")

// Scale is the fixed number of decimal places amounts are stored and
// compared at.
const Scale = 8

// Amount is a scale-8 decimal value of ATP. It may be negative (system
// account balances are).
// Zero value is the zero amount.
type Amount struct {
	v decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{}

// New builds an Amount from a decimal, rounding to Scale and validating it
// against MaxAmount. It does not reject negative values: negative Amounts
// are valid for system accounts, which the caller enforces.
func New(d decimal.Decimal) (Amount, error) {
	rounded := d.Round(Scale)
	if rounded.Abs().GreaterThan(MaxAmount) {
		return Amount{}, fmt.Errorf("amount %s exceeds maximum magnitude %s", rounded, MaxAmount)
	}
	return Amount{v: rounded}, nil
}

// MustNew is New but panics on error. Use only with compile-time constants.
func MustNew(s string) Amount {
	a, err := New(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Parse parses a decimal string into an Amount, rejecting values with more
// than Scale decimal places, per the spec's ">8 decimals" validation rule.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -Scale {
		return Amount{}, fmt.Errorf("amount %q has more than %d decimal places", s, Scale)
	}
	return New(d)
}

func (a Amount) Decimal() decimal.Decimal { return a.v }

func (a Amount) Add(b Amount) Amount { return Amount{v: a.v.Add(b.v)} }
func (a Amount) Sub(b Amount) Amount { return Amount{v: a.v.Sub(b.v)} }
func (a Amount) Neg() Amount         { return Amount{v: a.v.Neg()} }

func (a Amount) IsZero() bool               { return a.v.IsZero() }
func (a Amount) IsNegative() bool           { return a.v.IsNegative() }
func (a Amount) IsPositive() bool           { return a.v.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool  { return a.v.GreaterThan(b.v) }
func (a Amount) LessThan(b Amount) bool     { return a.v.LessThan(b.v) }
func (a Amount) Equal(b Amount) bool        { return a.v.Equal(b.v) }

func (a Amount) String() string { return a.v.StringFixed(Scale) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.StringFixed(Scale) + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer so Amount can be written directly as a
// NUMERIC column parameter via pgx.
func (a Amount) Value() (driver.Value, error) {
	return a.v.StringFixed(Scale), nil
}

// Scan implements sql.Scanner so Amount can be read directly from a
// NUMERIC column via pgx.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*a = Amount{v: d}
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*a = Amount{v: d}
		return nil
	case float64:
		*a = Amount{v: decimal.NewFromFloat(v)}
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}
