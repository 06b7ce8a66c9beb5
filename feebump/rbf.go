// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CancelRBFOptions configures CancelRBF.
type CancelRBFOptions struct {
	BaseOptions

	// CancelAddress receives everything left after fees.
	CancelAddress btcutil.Address

	// ReuseAllInputs spends every original input found in the available
	// UTXOs. By default exactly one is spent.
	ReuseAllInputs bool

	// FullRBF replaces a transaction that does not signal RBF.
	FullRBF bool
}

// AccelerateRBFOptions configures AccelerateRBF. Exactly one of ChangeIndex
// and ChangeAddress must be set.
type AccelerateRBFOptions struct {
	BaseOptions

	// ChangeIndex is the index of the wallet's change output in the
	// original transaction. Its address receives the new change.
	ChangeIndex fn.Option[int]

	// ChangeAddress receives the change when the original transaction
	// has no change output.
	ChangeAddress btcutil.Address

	// ReuseAllInputs defaults to true. Spending only one original input
	// leaves the others free to confirm the original payment in a new
	// transaction.
	ReuseAllInputs fn.Option[bool]

	// FullRBF replaces a transaction that does not signal RBF.
	FullRBF bool
}

// CancelRBF builds a replacement that conflicts with the original
// transaction and sends the funds of its inputs, minus fees, to the cancel
// address.
func CancelRBF(opts CancelRBFOptions) (*Result, error) {
	if opts.CancelAddress == nil {
		return nil, fmt.Errorf("%w: no cancel address",
			ErrInvalidOutput)
	}

	cfg := opts.analyzerConfig()
	cfg.FullRBF = opts.FullRBF

	b, err := newBuilder(&opts.BaseOptions, cfg)
	if err != nil {
		return nil, err
	}

	if err := b.checkRBF(); err != nil {
		return nil, err
	}

	if err := b.newTemplate(b.analyzer.RBFFeeRate()); err != nil {
		return nil, err
	}

	if err := b.addOriginalInputs(opts.ReuseAllInputs); err != nil {
		return nil, err
	}

	cancel, err := NewTxOutputTemplate(opts.CancelAddress, 0, false)
	if err != nil {
		return nil, err
	}
	b.template.AddOutput(cancel)

	t, minFee := b.template, b.analyzer.MinimumRBFFee()
	err = b.addAdditionalInputs(func() bool {
		return t.FeeRateSatisfied() && t.CurrentFee() >= minFee
	})
	if err != nil {
		return nil, err
	}

	fees := max(t.TargetFeesToPay(), minFee)
	amount := t.TotalInputAmount() - t.TotalOutputAmount() - fees
	if amount < 0 {
		return nil, fmt.Errorf("%w: inputs of %v cannot pay fees of %v",
			ErrInsufficientFunds, t.TotalInputAmount(), fees)
	}

	if amount < t.Config().DustThreshold {
		err := b.softFail(fmt.Errorf("%w: cancel output of %v is "+
			"below the dust threshold %v", ErrDustOutput, amount,
			t.Config().DustThreshold))
		if err != nil {
			return nil, err
		}

		amount = 0
	}

	if err := cancel.SetAmount(amount); err != nil {
		return nil, err
	}

	if err := b.checkReplacement(); err != nil {
		return nil, err
	}

	return b.finish()
}

// AccelerateRBF builds a replacement that keeps the payments of the
// original transaction and pays a higher fee, taking it from the change.
func AccelerateRBF(opts AccelerateRBFOptions) (*Result, error) {
	if opts.ChangeIndex.IsSome() == (opts.ChangeAddress != nil) {
		return nil, fmt.Errorf("%w: set exactly one of change index "+
			"and change address", ErrChangeSelection)
	}

	cfg := opts.analyzerConfig()
	cfg.FullRBF = opts.FullRBF
	cfg.ChangeOutputIndex = opts.ChangeIndex

	b, err := newBuilder(&opts.BaseOptions, cfg)
	if err != nil {
		return nil, err
	}

	if err := b.checkRBF(); err != nil {
		return nil, err
	}

	if err := b.newTemplate(b.analyzer.RBFFeeRate()); err != nil {
		return nil, err
	}

	reuseAll := opts.ReuseAllInputs.UnwrapOr(true)
	if !reuseAll {
		b.warnf("Spending only one input of %v: the remaining inputs "+
			"can confirm the original payment again",
			b.analyzer.Txid())
	}

	if err := b.addOriginalInputs(reuseAll); err != nil {
		return nil, err
	}

	outputs, err := b.analyzer.OutputTemplates()
	if err != nil {
		return nil, err
	}

	changeAddress := opts.ChangeAddress
	for _, out := range outputs {
		if out.IsMalleable() {
			changeAddress = out.Address()

			continue
		}

		b.template.AddOutput(out)
	}

	t, minFee := b.template, b.analyzer.MinimumRBFFee()
	err = b.addAdditionalInputs(func() bool {
		return t.FeeRateSatisfied() && t.CurrentFee() >= minFee &&
			(t.NeedsChange() || len(t.Outputs()) > 0)
	})
	if err != nil {
		return nil, err
	}

	if t.NeedsChangeOutput() {
		change, err := NewTxOutputTemplate(changeAddress, 0, false)
		if err != nil {
			return nil, err
		}
		t.AddOutput(change)

		if err := t.adjustChangeOutput(minFee); err != nil {
			return nil, err
		}
	}

	if err := b.checkReplacement(); err != nil {
		return nil, err
	}

	return b.finish()
}

// checkRBF fails unless the original transaction can be replaced at the
// target fee rate.
func (b *builder) checkRBF() error {
	a := b.analyzer

	if a.TargetFeeRate().LessThanOrEqual(a.FeeRate()) {
		return fmt.Errorf("%w: target %v, %v pays %v",
			ErrTargetFeeRateTooLow, a.TargetFeeRate(), a.Txid(),
			a.FeeRate())
	}

	if !a.CanRBF() {
		return fmt.Errorf("%w: %v", ErrRBFNotPossible, a.Txid())
	}

	if strategy := a.RecommendedStrategy(); strategy != StrategyRBF {
		return b.softFail(fmt.Errorf("%w: %v is recommended for %v",
			ErrStrategyMismatch, strategy, a.Txid()))
	}

	return nil
}

// checkReplacement verifies the replacement pays at least the minimum RBF
// fee and its own target fees.
func (b *builder) checkReplacement() error {
	fee, minFee := b.template.CurrentFee(), b.analyzer.MinimumRBFFee()
	if fee < minFee {
		return fmt.Errorf("%w: replacement fee %v is below the minimum "+
			"of %v", ErrFeeTooLow, fee, minFee)
	}

	if targetFees := b.template.TargetFeesToPay(); fee < targetFees {
		return fmt.Errorf("%w: replacement fee %v is below the target "+
			"fees %v", ErrFeeTooLow, fee, targetFees)
	}

	return nil
}
