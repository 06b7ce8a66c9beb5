// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// TxOutputTemplate is an output of a transaction being assembled. A
// malleable output may change its amount, a locked one may not. Locking is
// one way.
type TxOutputTemplate struct {
	address btcutil.Address
	amount  btcutil.Amount
	locked  bool
}

// NewTxOutputTemplate creates an output paying amount to address. A locked
// output must have a positive amount.
func NewTxOutputTemplate(address btcutil.Address, amount btcutil.Amount,
	locked bool) (*TxOutputTemplate, error) {

	if amount < 0 {
		return nil, fmt.Errorf("%w: output to %v: %v", ErrNegativeAmount,
			address, amount)
	}

	if locked && amount == 0 {
		return nil, fmt.Errorf("%w: output to %v", ErrZeroLockedOutput,
			address)
	}

	return &TxOutputTemplate{
		address: address,
		amount:  amount,
		locked:  locked,
	}, nil
}

// Address returns the address paid by the output.
func (o *TxOutputTemplate) Address() btcutil.Address {
	return o.address
}

// PkScript returns the output script of the address.
func (o *TxOutputTemplate) PkScript() ([]byte, error) {
	return txscript.PayToAddrScript(o.address)
}

// Amount returns the value of the output.
func (o *TxOutputTemplate) Amount() btcutil.Amount {
	return o.amount
}

// IsMalleable reports whether the amount may still change.
func (o *TxOutputTemplate) IsMalleable() bool {
	return !o.locked
}

// Lock fixes the amount of the output. Locking a locked output does
// nothing; an output without value cannot be locked.
func (o *TxOutputTemplate) Lock() error {
	if o.locked {
		return nil
	}

	if o.amount <= 0 {
		return fmt.Errorf("%w: output to %v", ErrZeroLockedOutput,
			o.address)
	}

	o.locked = true

	return nil
}

// SetAmount replaces the amount of a malleable output.
func (o *TxOutputTemplate) SetAmount(amount btcutil.Amount) error {
	if o.locked {
		return fmt.Errorf("%w: output to %v", ErrImmutableOutput,
			o.address)
	}

	if amount < 0 {
		return fmt.Errorf("%w: output to %v: %v", ErrNegativeAmount,
			o.address, amount)
	}

	o.amount = amount

	return nil
}

// AddAmount adds to the amount of a malleable output.
func (o *TxOutputTemplate) AddAmount(amount btcutil.Amount) error {
	if o.locked {
		return fmt.Errorf("%w: output to %v", ErrImmutableOutput,
			o.address)
	}

	if o.amount+amount < 0 {
		return fmt.Errorf("%w: output to %v: %v", ErrNegativeAmount,
			o.address, o.amount+amount)
	}

	o.amount += amount

	return nil
}

// SubtractAmount subtracts from the amount of a malleable output. It is an
// error to subtract more than the output holds.
func (o *TxOutputTemplate) SubtractAmount(amount btcutil.Amount) error {
	if o.locked {
		return fmt.Errorf("%w: output to %v", ErrImmutableOutput,
			o.address)
	}

	if amount > o.amount {
		return fmt.Errorf("%w: cannot subtract %v from %v",
			ErrNegativeAmount, amount, o.amount)
	}

	o.amount -= amount

	return nil
}

// IsValid reports whether the output has an address and a positive
// amount. A locked output without value is a programming error and is
// reported as an error rather than false.
func (o *TxOutputTemplate) IsValid() (bool, error) {
	if o.locked && o.amount <= 0 {
		return false, fmt.Errorf("%w: output to %v", ErrZeroLockedOutput,
			o.address)
	}

	return o.amount > 0 && o.address != nil, nil
}

// String returns the address and amount of the output.
func (o *TxOutputTemplate) String() string {
	state := "malleable"
	if o.locked {
		state = "locked"
	}

	return fmt.Sprintf("%v: %v (%s)", o.address, o.amount, state)
}
