// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BaseOptions are shared by every fee bump construction.
type BaseOptions struct {
	// TxHex is the wire serialization of the transaction to bump.
	TxHex string

	// Params is the network of the transaction.
	Params *chaincfg.Params

	// TargetFeeRate is the fee rate to reach.
	TargetFeeRate btcunit.SatPerVByte

	// AbsoluteFee is the fee paid by the transaction to bump.
	AbsoluteFee btcutil.Amount

	// AvailableUTXOs are the wallet outputs the new transaction may
	// spend. Additional inputs are taken from it in order.
	AvailableUTXOs []*UTXO

	// ScriptType and the quorum of the wallet.
	ScriptType      ScriptType
	RequiredSigners int
	TotalSigners    int

	// DustThreshold defaults to DefaultDustThreshold.
	DustThreshold btcutil.Amount

	// IncrementalRelayFee defaults to DefaultIncrementalRelayFee.
	IncrementalRelayFee btcunit.SatPerVByte

	// GlobalXpubs are written to the PSBT.
	GlobalXpubs []GlobalXpub

	// MaxFeeRate and MaxAbsoluteFee override the absurd fee ceilings.
	MaxFeeRate     btcunit.SatPerVByte
	MaxAbsoluteFee btcutil.Amount

	// Strictness defaults to Lenient.
	Strictness Strictness
}

// analyzerConfig returns the analyzer config of the options.
func (o *BaseOptions) analyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		TxHex:               o.TxHex,
		Params:              o.Params,
		TargetFeeRate:       o.TargetFeeRate,
		AbsoluteFee:         o.AbsoluteFee,
		AvailableUTXOs:      o.AvailableUTXOs,
		ScriptType:          o.ScriptType,
		RequiredSigners:     o.RequiredSigners,
		TotalSigners:        o.TotalSigners,
		IncrementalRelayFee: o.IncrementalRelayFee,
		DustThreshold:       o.DustThreshold,
	}
}

// templateConfig returns the template config of the options at rate.
func (o *BaseOptions) templateConfig(
	rate btcunit.SatPerVByte) TemplateConfig {

	return TemplateConfig{
		TargetFeeRate:   rate,
		DustThreshold:   o.DustThreshold,
		Params:          o.Params,
		ScriptType:      o.ScriptType,
		RequiredSigners: o.RequiredSigners,
		TotalSigners:    o.TotalSigners,
		GlobalXpubs:     o.GlobalXpubs,
		MaxFeeRate:      o.MaxFeeRate,
		MaxAbsoluteFee:  o.MaxAbsoluteFee,
	}
}

// builder owns the analyzer and the template of one construction. Nothing
// outside the construction sees the template before the PSBT is made.
type builder struct {
	opts     *BaseOptions
	analyzer *TransactionAnalyzer
	template *TransactionTemplate

	// spent holds the outpoints already used as inputs.
	spent fn.Set[wire.OutPoint]

	warnings []string
}

func newBuilder(opts *BaseOptions, cfg AnalyzerConfig) (*builder, error) {
	analyzer, err := NewTransactionAnalyzer(cfg)
	if err != nil {
		return nil, err
	}

	log.Debugf("Analyzed %v: vsize=%v, fee=%v, rate=%v, target=%v",
		analyzer.Txid(), analyzer.VSize(), analyzer.Fee(),
		analyzer.FeeRate(), analyzer.TargetFeeRate())

	return &builder{
		opts:     opts,
		analyzer: analyzer,
		spent:    fn.NewSet[wire.OutPoint](),
	}, nil
}

// newTemplate creates the template of the construction at rate.
func (b *builder) newTemplate(rate btcunit.SatPerVByte) error {
	template, err := NewTransactionTemplate(b.opts.templateConfig(rate))
	if err != nil {
		return err
	}

	b.template = template

	return nil
}

// warnf logs a warning and records it for the result.
func (b *builder) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)

	b.warnings = append(b.warnings, msg)
}

// softFail returns err in strict mode and records it as a warning
// otherwise.
func (b *builder) softFail(err error) error {
	if b.opts.Strictness == Strict {
		return err
	}

	b.warnf("%v", err)

	return nil
}

// addUTXO adds utxo as an input of the template.
func (b *builder) addUTXO(utxo *UTXO) error {
	in, err := FromUTXO(utxo)
	if err != nil {
		return err
	}

	b.template.AddInput(in)
	b.spent.Add(utxo.OutPoint())

	log.Debugf("Added input %v", in)

	return nil
}

// addOriginalInputs adds the inputs of the transaction to bump that are
// found in the available UTXOs, in transaction order. With all unset only
// the first one found is added.
func (b *builder) addOriginalInputs(all bool) error {
	for _, txIn := range b.analyzer.Tx().TxIn {
		outpoint := txIn.PreviousOutPoint

		utxo := findUTXO(b.opts.AvailableUTXOs, outpoint)
		if utxo == nil {
			log.Debugf("Original input %v is not an available UTXO",
				outpoint)

			continue
		}

		if err := b.addUTXO(utxo); err != nil {
			return err
		}

		if !all {
			break
		}
	}

	if len(b.template.Inputs()) == 0 {
		return fmt.Errorf("%w: none of the inputs of %v is available",
			ErrNoEligibleInput, b.analyzer.Txid())
	}

	return nil
}

// addAdditionalInputs adds available UTXOs not spent yet, in order, until
// done reports true. It fails when the UTXOs run out first.
func (b *builder) addAdditionalInputs(done func() bool) error {
	for _, utxo := range b.opts.AvailableUTXOs {
		if done() {
			return nil
		}

		if b.spent.Contains(utxo.OutPoint()) {
			continue
		}

		if err := b.addUTXO(utxo); err != nil {
			return err
		}
	}

	if done() {
		return nil
	}

	t := b.template

	return fmt.Errorf("%w: inputs of %v leave a fee of %v, target fees "+
		"are %v at %v", ErrInsufficientFunds, t.TotalInputAmount(),
		t.CurrentFee(), t.TargetFeesToPay(), t.TargetFeeRate())
}

// finish validates the template and encodes the PSBT.
func (b *builder) finish() (*Result, error) {
	psbt, err := b.template.ToPsbt(true)
	if err != nil {
		return nil, err
	}

	log.Debugf("Built transaction: %v", newLogClosure(func() string {
		return spew.Sdump(b.template.Outputs())
	}))

	warnings := b.analyzer.Warnings()
	warnings = append(warnings, b.template.Warnings()...)
	warnings = append(warnings, b.warnings...)

	return &Result{
		Psbt:     psbt,
		Template: b.template,
		Warnings: warnings,
	}, nil
}
