/*
Package generic provides the shared kernel of the allocator.

PURPOSE:
  This package contains domain-agnostic types used by every other package:
  exact decimal amounts, calendar time points, date periods, the error
  taxonomy and the key-value state store contract. The allocation package
  builds the quarter/period state machine on top of these.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 1200 SU of compute, 5.02 GB of storage)
  - Unit: What the quantity measures

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so budgets and penalties never drift
  2. Immutability: Amount arithmetic returns new values
  3. Type Safety: Units travel with the value

USAGE:
  budget := generic.NewAmount(375, generic.UnitSU)
  left := budget.Sub(generic.NewAmount(120, generic.UnitSU))

SEE ALSO:
  - time.go: Calendar time points
  - period.go: Date ranges
  - store.go: State persistence contract
*/
package generic

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitSU Unit = "su" // compute service units
	UnitGB Unit = "gb" // storage
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampZero returns the amount, or zero if it is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

// PercentOf returns a as a percentage of total. Callers must check total > 0.
func (a Amount) PercentOf(total Amount) decimal.Decimal {
	return a.Value.Div(total.Value).Mul(decimal.NewFromInt(100))
}

func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + strings.ToUpper(string(a.Unit))
}

// SU is shorthand for a compute amount.
func SU(value float64) Amount { return NewAmount(value, UnitSU) }

// GB is shorthand for a storage amount.
func GB(value float64) Amount { return NewAmount(value, UnitGB) }

// ZeroSU is the zero compute amount.
func ZeroSU() Amount { return Amount{Value: decimal.Zero, Unit: UnitSU} }
