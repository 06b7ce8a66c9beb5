// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string. Three places keep fractional
	// rates such as 32.75 sat/vb or 0.001 sat/vb readable.
	floatStringPrecision = 3
)

var (
	// ErrInvalidFeeRate is returned when a fee rate string cannot be
	// parsed or describes a negative rate.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)

	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)
)

// baseFeeRate stores the canonical representation of a fee rate, which is
// satoshis per kilo-weight-unit (sat/kwu). All other fee rate units are
// derived from this.
type baseFeeRate struct {
	// satsPerKWU is the fee rate in satoshis per kilo-weight-unit. A nil
	// value is treated as zero so that the zero value of every rate type
	// is usable.
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a new baseFeeRate with the given numerator and
// denominator. It handles the zero denominator case by returning a zero fee
// rate.
func newBaseFeeRate(numerator btcutil.Amount, denominator uint64) baseFeeRate {
	if denominator == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	return baseFeeRate{satsPerKWU: big.NewRat(
		int64(numerator),
		safeUint64ToInt64(denominator),
	)}
}

// rat returns the sat/kwu value, substituting zero for an unset rate.
func (f baseFeeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return new(big.Rat)
	}

	return f.satsPerKWU
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKVByte converts the fee rate to sat/kvb.
func (f baseFeeRate) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{f}
}

// feeForWeight multiplies the rate with the weight and returns the exact
// rational fee in satoshis.
func (f baseFeeRate) feeForWeight(weightUnit WeightUnit) *big.Rat {
	return new(big.Rat).Mul(
		f.rat(), big.NewRat(safeUint64ToInt64(weightUnit.wu), kilo),
	)
}

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight in weight units (wu). The result is rounded down.
func (f baseFeeRate) FeeForWeight(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeForWeight(weightUnit)

	quotient := new(big.Int).Quo(fee.Num(), fee.Denom())

	return btcutil.Amount(quotient.Int64())
}

// FeeForWeightRoundUp calculates the fee resulting from this fee rate and the
// given weight in weight units (wu), rounding up to the nearest satoshi.
func (f baseFeeRate) FeeForWeightRoundUp(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeForWeight(weightUnit)

	// Ceiling division for a non-negative rational:
	// (numerator + denominator - 1) / denominator.
	result := new(big.Int).Add(fee.Num(), fee.Denom())
	result.Sub(result, big.NewInt(1))
	result.Quo(result, fee.Denom())

	return btcutil.Amount(result.Int64())
}

// FeeForVByte calculates the fee resulting from this fee rate and the given
// size in vbytes (vb), rounded down.
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

// FeeForVByteRoundUp calculates the fee resulting from this fee rate and the
// given size in vbytes (vb), rounded up. This is the rounding to use when a
// target rate must never be under-paid.
func (f baseFeeRate) FeeForVByteRoundUp(vb VByte) btcutil.Amount {
	return f.FeeForWeightRoundUp(vb.ToWU())
}

// FeeForKVByte calculates the fee resulting from this fee rate and the given
// vsize in kilo-vbytes.
func (f baseFeeRate) FeeForKVByte(kvb KVByte) btcutil.Amount {
	return f.FeeForWeight(kvb.ToWU())
}

// IsZero returns true if the fee rate is zero.
func (f baseFeeRate) IsZero() bool {
	return f.rat().Sign() == 0
}

// IsPositive returns true if the fee rate is strictly greater than zero.
func (f baseFeeRate) IsPositive() bool {
	return f.rat().Sign() > 0
}

func (f baseFeeRate) cmp(other baseFeeRate) int {
	return f.rat().Cmp(other.rat())
}

// SatPerVByte represents a fee rate in sat/vbyte. Internally, all fee rates
// are stored and operated on as satoshis per kilo-weight-unit (sat/kw).
// Conversions to other units and fee calculations are performed using this
// canonical internal representation. The `String()` method is the only one
// that presents the fee rate in its specific sat/vbyte unit.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a new fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte calculates the fee rate in sat/vb for a given fee and size.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	// (fee * 1000) / size_in_wu gives sat/kwu directly since vb.wu
	// already carries the WitnessScaleFactor.
	return SatPerVByte{newBaseFeeRate(fee*kilo, vb.wu)}
}

// NewSatPerVByteFromRat creates a fee rate from an exact sat/vb rational.
func NewSatPerVByteFromRat(satPerVByte *big.Rat) SatPerVByte {
	kwu := new(big.Rat).Mul(
		satPerVByte, big.NewRat(kilo, blockchain.WitnessScaleFactor),
	)

	return SatPerVByte{baseFeeRate{satsPerKWU: kwu}}
}

// ParseSatPerVByte parses a decimal sat/vb string such as "32.75" without
// going through floating point.
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return SatPerVByte{}, fmt.Errorf("%w: %q", ErrInvalidFeeRate, s)
	}

	if r.Sign() < 0 {
		return SatPerVByte{}, fmt.Errorf("%w: %q is negative",
			ErrInvalidFeeRate, s)
	}

	return NewSatPerVByteFromRat(r), nil
}

// MaxSatPerVByte returns the larger of the two fee rates.
func MaxSatPerVByte(a, b SatPerVByte) SatPerVByte {
	if a.GreaterThanOrEqual(b) {
		return a
	}

	return b
}

// Add returns the sum of the two fee rates.
func (s SatPerVByte) Add(other SatPerVByte) SatPerVByte {
	sum := new(big.Rat).Add(s.rat(), other.rat())

	return SatPerVByte{baseFeeRate{satsPerKWU: sum}}
}

// satPerVByte returns the rate expressed in sat/vb as a rational.
func (s SatPerVByte) satPerVByte() *big.Rat {
	return new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)
}

// Float64 returns the nearest float64 value of the rate in sat/vb. It is
// meant for display and reporting only.
func (s SatPerVByte) Float64() float64 {
	f, _ := s.satPerVByte().Float64()

	return f
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return s.satPerVByte().FloatString(floatStringPrecision) + " sat/vb"
}

// MarshalJSON encodes the rate as a JSON number in sat/vb.
func (s SatPerVByte) MarshalJSON() ([]byte, error) {
	return []byte(s.satPerVByte().FloatString(floatStringPrecision)), nil
}

// UnmarshalJSON decodes a sat/vb rate given either as a JSON number or as a
// decimal string.
func (s *SatPerVByte) UnmarshalJSON(b []byte) error {
	rate, err := ParseSatPerVByte(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}

	*s = rate

	return nil
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// GreaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (s SatPerVByte) GreaterThanOrEqual(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) >= 0
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerVByte) LessThanOrEqual(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) <= 0
}

// SatPerKVByte represents a fee rate in sat/kvb. This is the unit relay
// policy (minrelaytxfee, dust limits) is expressed in.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a new fee rate in sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return CalcSatPerKVByte(rate, NewKVByte(1))
}

// CalcSatPerKVByte calculates the fee rate in sat/kvb for a given fee and size.
func CalcSatPerKVByte(fee btcutil.Amount, kvb KVByte) SatPerKVByte {
	return SatPerKVByte{newBaseFeeRate(fee*kilo, kvb.wu)}
}

// Amount returns the number of satoshis paid per kilo-vbyte, rounded down.
// This is the form the txrules relay policy helpers expect.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return s.FeeForKVByte(NewKVByte(1))
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	kwToKvbRate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, 1),
	)

	return kwToKvbRate.FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// The values converted here are transaction weights, which consensus keeps
// far below the cap.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		slog.Warn("Capping uint64 value to math.MaxInt64",
			slog.Uint64("old", u), slog.Int64("new", math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
