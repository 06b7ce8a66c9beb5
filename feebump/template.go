// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/feebump/pkg/btcunit"
)

const (
	// DefaultDustThreshold is the dust threshold used when none is
	// configured.
	DefaultDustThreshold btcutil.Amount = 546

	// DefaultMaxAbsoluteFee is the absolute fee at which a template is
	// rejected as absurd.
	DefaultMaxAbsoluteFee = btcutil.Amount(btcutil.SatoshiPerBitcoin / 10)
)

var (
	// DefaultMaxFeeRate is the fee rate at which a template is rejected
	// as absurd.
	DefaultMaxFeeRate = btcunit.NewSatPerVByte(1000)

	// DefaultIncrementalRelayFee is the relay policy minimum by which a
	// replacement must raise the fee rate.
	DefaultIncrementalRelayFee = btcunit.NewSatPerVByte(1)
)

// TemplateConfig holds the transaction level parameters of a template.
type TemplateConfig struct {
	// TargetFeeRate is the fee rate the template must pay.
	TargetFeeRate btcunit.SatPerVByte

	// DustThreshold defaults to DefaultDustThreshold.
	DustThreshold btcutil.Amount

	// Params is the network of the output addresses.
	Params *chaincfg.Params

	// ScriptType and the quorum select the size estimate of the inputs
	// and outputs.
	ScriptType ScriptType

	// RequiredSigners defaults to 1.
	RequiredSigners int

	// TotalSigners defaults to 1.
	TotalSigners int

	// GlobalXpubs are written to the global map of the PSBT.
	GlobalXpubs []GlobalXpub

	// MaxFeeRate defaults to DefaultMaxFeeRate.
	MaxFeeRate btcunit.SatPerVByte

	// MaxAbsoluteFee defaults to DefaultMaxAbsoluteFee.
	MaxAbsoluteFee btcutil.Amount
}

// withDefaults returns a copy of the config with defaults applied and
// checks it.
func (c TemplateConfig) withDefaults() (TemplateConfig, error) {
	if c.Params == nil {
		return c, fmt.Errorf("%w: no network parameters",
			ErrUnknownNetwork)
	}

	if err := c.ScriptType.validate(); err != nil {
		return c, err
	}

	if c.DustThreshold == 0 {
		c.DustThreshold = DefaultDustThreshold
	}
	if c.DustThreshold < 0 {
		return c, fmt.Errorf("%w: dust threshold %v", ErrNegativeAmount,
			c.DustThreshold)
	}

	if c.RequiredSigners == 0 {
		c.RequiredSigners = 1
	}
	if c.TotalSigners == 0 {
		c.TotalSigners = 1
	}
	if err := checkQuorum(c.RequiredSigners, c.TotalSigners); err != nil {
		return c, err
	}

	if c.MaxFeeRate.IsZero() {
		c.MaxFeeRate = DefaultMaxFeeRate
	}
	if c.MaxAbsoluteFee == 0 {
		c.MaxAbsoluteFee = DefaultMaxAbsoluteFee
	}

	return c, nil
}

// TransactionTemplate is a transaction being assembled. Inputs and outputs
// keep the order they were added in. Every derived value is computed from
// the current inputs and outputs on each call.
//
// A template is not safe for concurrent use.
type TransactionTemplate struct {
	cfg TemplateConfig

	inputs  []*TxInputTemplate
	outputs []*TxOutputTemplate
	xpubs   []GlobalXpub

	warnings []string
}

// NewTransactionTemplate creates an empty template.
func NewTransactionTemplate(cfg TemplateConfig) (*TransactionTemplate,
	error) {

	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	t := &TransactionTemplate{cfg: cfg}
	for _, xpub := range cfg.GlobalXpubs {
		if err := t.AddGlobalXpub(xpub); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Config returns the configuration of the template with defaults applied.
func (t *TransactionTemplate) Config() TemplateConfig {
	return t.cfg
}

// Inputs returns the inputs in transaction order.
func (t *TransactionTemplate) Inputs() []*TxInputTemplate {
	return slices.Clone(t.inputs)
}

// Outputs returns the outputs in transaction order.
func (t *TransactionTemplate) Outputs() []*TxOutputTemplate {
	return slices.Clone(t.outputs)
}

// GlobalXpubs returns the global xpubs in insertion order.
func (t *TransactionTemplate) GlobalXpubs() []GlobalXpub {
	return slices.Clone(t.xpubs)
}

// Warnings returns the warnings raised while the template was adjusted.
func (t *TransactionTemplate) Warnings() []string {
	return slices.Clone(t.warnings)
}

// warnf logs a warning and records it on the template.
func (t *TransactionTemplate) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)

	t.warnings = append(t.warnings, msg)
}

// AddInput appends an input. It performs no validation.
func (t *TransactionTemplate) AddInput(in *TxInputTemplate) {
	t.inputs = append(t.inputs, in)
}

// AddOutput appends an output. It performs no validation.
func (t *TransactionTemplate) AddOutput(out *TxOutputTemplate) {
	t.outputs = append(t.outputs, out)
}

// RemoveOutput removes the output at index.
func (t *TransactionTemplate) RemoveOutput(index int) error {
	if index < 0 || index >= len(t.outputs) {
		return fmt.Errorf("%w: %d of %d", ErrOutputIndex, index,
			len(t.outputs))
	}

	t.outputs = slices.Delete(t.outputs, index, index+1)

	return nil
}

// AddGlobalXpub appends a global xpub. The same xpub cannot be added twice.
func (t *TransactionTemplate) AddGlobalXpub(xpub GlobalXpub) error {
	for _, existing := range t.xpubs {
		if existing.Xpub == xpub.Xpub {
			return fmt.Errorf("%w: %s", ErrDuplicateXpub, xpub.Xpub)
		}
	}

	t.xpubs = append(t.xpubs, xpub)

	return nil
}

// MalleableOutputs returns the outputs whose amount may still change.
func (t *TransactionTemplate) MalleableOutputs() []*TxOutputTemplate {
	var malleable []*TxOutputTemplate
	for _, out := range t.outputs {
		if out.IsMalleable() {
			malleable = append(malleable, out)
		}
	}

	return malleable
}

// TotalInputAmount returns the sum of the input amounts.
func (t *TransactionTemplate) TotalInputAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range t.inputs {
		total += in.Amount()
	}

	return total
}

// TotalOutputAmount returns the sum of the output amounts.
func (t *TransactionTemplate) TotalOutputAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range t.outputs {
		total += out.Amount()
	}

	return total
}

// ChangeAmount returns the sum of the malleable output amounts.
func (t *TransactionTemplate) ChangeAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range t.MalleableOutputs() {
		total += out.Amount()
	}

	return total
}

// CurrentFee returns the inputs minus the outputs. It is negative while the
// outputs spend more than the inputs provide.
func (t *TransactionTemplate) CurrentFee() btcutil.Amount {
	return t.TotalInputAmount() - t.TotalOutputAmount()
}

// EstimatedVSize returns the estimated virtual size of the signed
// transaction.
func (t *TransactionTemplate) EstimatedVSize() btcunit.VByte {
	return t.cfg.ScriptType.estimateVSize(
		len(t.inputs), len(t.outputs), t.cfg.RequiredSigners,
		t.cfg.TotalSigners,
	)
}

// TargetFeeRate returns the fee rate the template must pay.
func (t *TransactionTemplate) TargetFeeRate() btcunit.SatPerVByte {
	return t.cfg.TargetFeeRate
}

// TargetFeesToPay returns the target fee rate times the estimated size,
// rounded up.
func (t *TransactionTemplate) TargetFeesToPay() btcutil.Amount {
	return t.cfg.TargetFeeRate.FeeForVByteRoundUp(t.EstimatedVSize())
}

// EstimatedFeeRate returns the current fee over the estimated size.
func (t *TransactionTemplate) EstimatedFeeRate() btcunit.SatPerVByte {
	return btcunit.CalcSatPerVByte(t.CurrentFee(), t.EstimatedVSize())
}

// FeeRateSatisfied reports whether the current fee rate reaches the
// target.
func (t *TransactionTemplate) FeeRateSatisfied() bool {
	return t.EstimatedFeeRate().GreaterThanOrEqual(t.cfg.TargetFeeRate)
}

// AreFeesPaid reports whether the current fee covers the target fees.
func (t *TransactionTemplate) AreFeesPaid() bool {
	return t.CurrentFee() >= t.TargetFeesToPay()
}

// NeedsChangeOutput reports whether the template has no change output yet
// while the excess over the target fees is more than dust.
func (t *TransactionTemplate) NeedsChangeOutput() bool {
	if len(t.MalleableOutputs()) > 0 {
		return false
	}

	return t.CurrentFee() > t.TargetFeesToPay()+t.cfg.DustThreshold
}

// NeedsChange reports whether the excess over the target fees can pay for
// one more output and still leave more than dust in it.
func (t *TransactionTemplate) NeedsChange() bool {
	changeCost := t.cfg.TargetFeeRate.FeeForVByteRoundUp(
		t.cfg.ScriptType.outputSize(),
	)

	excess := t.CurrentFee() - t.TargetFeesToPay()

	return excess > changeCost+t.cfg.DustThreshold
}

// AdjustChangeOutput sets the amount of the first malleable output so that
// the template pays exactly its target fees. A change amount below the dust
// threshold removes the output when other outputs exist; a sole output is
// kept with a warning.
func (t *TransactionTemplate) AdjustChangeOutput() error {
	return t.adjustChangeOutput(0)
}

// adjustChangeOutput is AdjustChangeOutput paying at least minFee when it
// exceeds the target fees.
func (t *TransactionTemplate) adjustChangeOutput(
	minFee btcutil.Amount) error {

	malleable := t.MalleableOutputs()
	if len(malleable) == 0 {
		return nil
	}

	change := malleable[0]
	targetFees := max(t.TargetFeesToPay(), minFee)
	otherOutputs := t.TotalOutputAmount() - change.Amount()

	newChange := t.TotalInputAmount() - otherOutputs - targetFees
	if newChange < 0 {
		return fmt.Errorf("%w: inputs %v, outputs %v, fees %v leave "+
			"change of %v", ErrInsufficientFunds, t.TotalInputAmount(),
			otherOutputs, targetFees, newChange)
	}

	if newChange < t.cfg.DustThreshold {
		if len(t.outputs) > 1 {
			log.Debugf("Dropping dust change output to %v of %v",
				change.Address(), newChange)

			return t.RemoveOutput(slices.Index(t.outputs, change))
		}

		t.warnf("Change output to %v of %v is below the dust "+
			"threshold %v but is the only output", change.Address(),
			newChange, t.cfg.DustThreshold)
	}

	if err := change.SetAmount(newChange); err != nil {
		return err
	}

	// The size does not depend on amounts, so the target fees are
	// unchanged and the template must balance exactly.
	discrepancy := t.TotalInputAmount() - t.TotalOutputAmount() -
		targetFees
	if discrepancy != 0 {
		return fmt.Errorf("%w: discrepancy of %v", ErrUnbalanced,
			discrepancy)
	}

	return nil
}

// Validate checks the template in order: inputs are complete and valid,
// outputs are valid, the fee covers the target fees, and neither the fee
// rate nor the absolute fee is absurd. The first failure is returned.
func (t *TransactionTemplate) Validate() error {
	for _, in := range t.inputs {
		if !in.HasRequiredFieldsForPSBT() {
			return fmt.Errorf("%w: %v", ErrMissingUtxoData,
				in.OutPoint())
		}

		if !in.IsValid() {
			return fmt.Errorf("%w: %v", ErrInvalidInput, in)
		}
	}

	for i, out := range t.outputs {
		ok, err := out.IsValid()
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}

		if !ok {
			return fmt.Errorf("%w: %d: %v", ErrInvalidOutput, i, out)
		}
	}

	fee, targetFees := t.CurrentFee(), t.TargetFeesToPay()
	if fee < targetFees {
		return fmt.Errorf("%w: fee %v is below the target fees %v at %v",
			ErrFeeTooLow, fee, targetFees, t.cfg.TargetFeeRate)
	}

	if rate := t.EstimatedFeeRate(); rate.GreaterThanOrEqual(
		t.cfg.MaxFeeRate) {

		return fmt.Errorf("%w: %v", ErrFeeRateTooLarge, rate)
	}

	if fee >= t.cfg.MaxAbsoluteFee {
		return fmt.Errorf("%w: %v", ErrAbsoluteFeeTooLarge, fee)
	}

	return nil
}
