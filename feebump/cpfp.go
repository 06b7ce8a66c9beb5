// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CPFPOptions configures CPFP. BaseOptions.TxHex and AbsoluteFee describe
// the parent transaction.
type CPFPOptions struct {
	BaseOptions

	// SpendableOutputIndex is the parent output the child spends.
	SpendableOutputIndex int

	// ChangeAddress receives the child's output.
	ChangeAddress btcutil.Address

	// ParentUTXO is the spendable parent output with its signing data.
	// When nil it is looked up in the available UTXOs.
	ParentUTXO *UTXO
}

// CPFP builds a child spending an output of the parent transaction, paying
// enough fee for parent and child together to reach the target rate.
func CPFP(opts CPFPOptions) (*Result, error) {
	if opts.ChangeAddress == nil {
		return nil, fmt.Errorf("%w: no change address", ErrInvalidOutput)
	}

	cfg := opts.analyzerConfig()
	cfg.ChangeOutputIndex = fn.Some(opts.SpendableOutputIndex)

	b, err := newBuilder(&opts.BaseOptions, cfg)
	if err != nil {
		return nil, err
	}

	a := b.analyzer
	if !a.CanCPFP() {
		return nil, fmt.Errorf("%w: output %d of %v is not spendable",
			ErrCPFPNotPossible, opts.SpendableOutputIndex, a.Txid())
	}

	if strategy := a.RecommendedStrategy(); strategy != StrategyCPFP {
		err := b.softFail(fmt.Errorf("%w: %v is recommended for %v",
			ErrStrategyMismatch, strategy, a.Txid()))
		if err != nil {
			return nil, err
		}
	}

	if err := b.newTemplate(a.CPFPFeeRate()); err != nil {
		return nil, err
	}

	parent, err := b.parentUTXO(opts)
	if err != nil {
		return nil, err
	}

	if err := b.addUTXO(parent); err != nil {
		return nil, err
	}

	change, err := NewTxOutputTemplate(opts.ChangeAddress, 0, false)
	if err != nil {
		return nil, err
	}

	t := b.template
	t.AddOutput(change)

	// Running out of inputs is recoverable here: the change may still
	// be adjusted to a smaller but valid amount.
	err = b.addAdditionalInputs(func() bool {
		return t.FeeRateSatisfied() && t.NeedsChange()
	})
	if errors.Is(err, ErrInsufficientFunds) {
		err = b.softFail(err)
	}
	if err != nil {
		return nil, err
	}

	if err := t.AdjustChangeOutput(); err != nil {
		return nil, err
	}

	packageRate := b.packageFeeRate()
	if packageRate.LessThan(a.TargetFeeRate()) {
		err := b.softFail(fmt.Errorf("%w: package of %v and child pays "+
			"%v, target %v", ErrPackageFeeRate, a.Txid(), packageRate,
			a.TargetFeeRate()))
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("CPFP child of %v pays %v, package rate %v", a.Txid(),
		t.CurrentFee(), packageRate)

	return b.finish()
}

// parentUTXO returns the spendable output of the parent, either given or
// found among the available UTXOs.
func (b *builder) parentUTXO(opts CPFPOptions) (*UTXO, error) {
	outpoint := wire.OutPoint{
		Hash:  b.analyzer.Txid(),
		Index: uint32(opts.SpendableOutputIndex),
	}

	if opts.ParentUTXO != nil {
		if opts.ParentUTXO.OutPoint() != outpoint {
			return nil, fmt.Errorf("%w: parent UTXO %v does not "+
				"match %v", ErrInvalidInput,
				opts.ParentUTXO.OutPoint(), outpoint)
		}

		return opts.ParentUTXO, nil
	}

	utxo := findUTXO(b.opts.AvailableUTXOs, outpoint)
	if utxo == nil {
		return nil, fmt.Errorf("%w: parent output %v is not an "+
			"available UTXO", ErrNoEligibleInput, outpoint)
	}

	return utxo, nil
}

// packageFeeRate returns the fee rate of parent and child together.
func (b *builder) packageFeeRate() btcunit.SatPerVByte {
	fee := b.analyzer.Fee() + b.template.CurrentFee()
	size := b.analyzer.VSize().Add(b.template.EstimatedVSize())

	return btcunit.NewSatPerVByteFromRat(big.NewRat(
		int64(fee), int64(size.Uint64()),
	))
}
