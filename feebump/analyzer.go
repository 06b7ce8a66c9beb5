// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// FeeBumpStrategy is the way a stuck transaction is accelerated.
type FeeBumpStrategy uint8

const (
	// StrategyNone means the transaction already pays the target rate or
	// cannot be bumped.
	StrategyNone FeeBumpStrategy = iota

	// StrategyRBF replaces the transaction.
	StrategyRBF

	// StrategyCPFP spends one of its outputs in a child.
	StrategyCPFP
)

// String returns the name of the strategy.
func (s FeeBumpStrategy) String() string {
	switch s {
	case StrategyNone:
		return "NONE"
	case StrategyRBF:
		return "RBF"
	case StrategyCPFP:
		return "CPFP"
	default:
		return fmt.Sprintf("FeeBumpStrategy(%d)", uint8(s))
	}
}

// MarshalText encodes the strategy by name.
func (s FeeBumpStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AnalyzerConfig describes the transaction to analyze and the goal.
type AnalyzerConfig struct {
	// TxHex is the wire serialization of the transaction.
	TxHex string

	// Params is the network of the transaction. It is used to derive
	// output addresses.
	Params *chaincfg.Params

	// TargetFeeRate is the fee rate the caller wants to reach.
	TargetFeeRate btcunit.SatPerVByte

	// AbsoluteFee is the fee paid by the transaction, which cannot be
	// derived from the transaction alone.
	AbsoluteFee btcutil.Amount

	// AvailableUTXOs are the wallet outputs that may fund a bump. When
	// set, RBF additionally requires one of them to be an input of the
	// transaction.
	AvailableUTXOs []*UTXO

	// ScriptType and the quorum size the hypothetical CPFP child.
	ScriptType      ScriptType
	RequiredSigners int
	TotalSigners    int

	// ChangeOutputIndex marks the output owned by the wallet.
	ChangeOutputIndex fn.Option[int]

	// IncrementalRelayFee defaults to DefaultIncrementalRelayFee.
	IncrementalRelayFee btcunit.SatPerVByte

	// DustThreshold defaults to DefaultDustThreshold.
	DustThreshold btcutil.Amount

	// FullRBF treats the transaction as replaceable without the BIP 125
	// signal.
	FullRBF bool
}

// TransactionAnalyzer inspects an unconfirmed transaction and decides how it
// can be bumped. Derived values are computed on first use and memoized; the
// setters clear only the values depending on what they change.
//
// An analyzer is not safe for concurrent use.
type TransactionAnalyzer struct {
	cfg AnalyzerConfig

	tx     *wire.MsgTx
	txid   chainhash.Hash
	weight btcunit.WeightUnit
	vsize  btcunit.VByte

	canRBF      fn.Option[bool]
	canCPFP     fn.Option[bool]
	rbfFeeRate  fn.Option[btcunit.SatPerVByte]
	cpfpFeeRate fn.Option[btcunit.SatPerVByte]
	strategy    fn.Option[FeeBumpStrategy]

	warnings []string
}

// NewTransactionAnalyzer parses the transaction and checks the config. A
// transaction without inputs or outputs is rejected.
func NewTransactionAnalyzer(cfg AnalyzerConfig) (*TransactionAnalyzer,
	error) {

	if cfg.Params == nil {
		return nil, fmt.Errorf("%w: no network parameters",
			ErrUnknownNetwork)
	}

	if !cfg.TargetFeeRate.IsPositive() {
		return nil, fmt.Errorf("%w: target fee rate %v must be "+
			"positive", ErrInvalidTransaction, cfg.TargetFeeRate)
	}

	if cfg.AbsoluteFee <= 0 {
		return nil, fmt.Errorf("%w: absolute fee %v must be positive",
			ErrInvalidTransaction, cfg.AbsoluteFee)
	}

	if err := cfg.ScriptType.validate(); err != nil {
		return nil, err
	}

	if cfg.RequiredSigners == 0 {
		cfg.RequiredSigners = 1
	}
	if cfg.TotalSigners == 0 {
		cfg.TotalSigners = 1
	}
	err := checkQuorum(cfg.RequiredSigners, cfg.TotalSigners)
	if err != nil {
		return nil, err
	}

	if cfg.IncrementalRelayFee.IsZero() {
		cfg.IncrementalRelayFee = DefaultIncrementalRelayFee
	}
	if cfg.DustThreshold == 0 {
		cfg.DustThreshold = DefaultDustThreshold
	}

	tx, err := decodeTxHex(cfg.TxHex)
	if err != nil {
		return nil, err
	}

	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return nil, fmt.Errorf("%w: %d inputs, %d outputs",
			ErrInvalidTransaction, len(tx.TxIn), len(tx.TxOut))
	}

	log.Tracef("Analyzing transaction: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	wu := btcunit.NewWeightUnit(uint64(weight))

	a := &TransactionAnalyzer{
		cfg:    cfg,
		tx:     tx,
		txid:   tx.TxHash(),
		weight: wu,

		// Relay policy rounds a fractional vbyte up.
		vsize: btcunit.NewVByte(wu.ToVB().Uint64()),
	}

	if err := a.checkChangeIndex(cfg.ChangeOutputIndex); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *TransactionAnalyzer) checkChangeIndex(index fn.Option[int]) error {
	return fnErr(index, func(i int) error {
		if i < 0 || i >= len(a.tx.TxOut) {
			return fmt.Errorf("%w: change index %d of %d outputs",
				ErrOutputIndex, i, len(a.tx.TxOut))
		}

		return nil
	})
}

// fnErr returns the error of f applied to a set option, or nil.
func fnErr[T any](o fn.Option[T], f func(T) error) error {
	var err error
	o.WhenSome(func(v T) {
		err = f(v)
	})

	return err
}

// warnf logs a warning and records it for the caller.
func (a *TransactionAnalyzer) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)

	a.warnings = append(a.warnings, msg)
}

// Warnings returns the warnings raised by the analysis so far.
func (a *TransactionAnalyzer) Warnings() []string {
	return append([]string(nil), a.warnings...)
}

// Tx returns the parsed transaction.
func (a *TransactionAnalyzer) Tx() *wire.MsgTx {
	return a.tx
}

// Txid returns the hash of the transaction.
func (a *TransactionAnalyzer) Txid() chainhash.Hash {
	return a.txid
}

// Weight returns the weight of the transaction.
func (a *TransactionAnalyzer) Weight() btcunit.WeightUnit {
	return a.weight
}

// VSize returns the virtual size of the transaction in whole vbytes.
func (a *TransactionAnalyzer) VSize() btcunit.VByte {
	return a.vsize
}

// Fee returns the absolute fee of the transaction.
func (a *TransactionAnalyzer) Fee() btcutil.Amount {
	return a.cfg.AbsoluteFee
}

// FeeRate returns the fee rate the transaction pays.
func (a *TransactionAnalyzer) FeeRate() btcunit.SatPerVByte {
	return btcunit.CalcSatPerVByte(a.cfg.AbsoluteFee, a.vsize)
}

// TargetFeeRate returns the fee rate the caller wants to reach.
func (a *TransactionAnalyzer) TargetFeeRate() btcunit.SatPerVByte {
	return a.cfg.TargetFeeRate
}

// IncrementalRelayFee returns the relay policy bump rate.
func (a *TransactionAnalyzer) IncrementalRelayFee() btcunit.SatPerVByte {
	return a.cfg.IncrementalRelayFee
}

// ChangeOutputIndex returns the index of the wallet's output, if known.
func (a *TransactionAnalyzer) ChangeOutputIndex() fn.Option[int] {
	return a.cfg.ChangeOutputIndex
}

// SetTargetFeeRate changes the target, which must be positive. The fee
// rates and the recommendation are recomputed on next use.
func (a *TransactionAnalyzer) SetTargetFeeRate(
	rate btcunit.SatPerVByte) error {

	if !rate.IsPositive() {
		return fmt.Errorf("%w: target fee rate %v must be positive",
			ErrInvalidTransaction, rate)
	}

	a.cfg.TargetFeeRate = rate
	a.rbfFeeRate = fn.None[btcunit.SatPerVByte]()
	a.cpfpFeeRate = fn.None[btcunit.SatPerVByte]()
	a.strategy = fn.None[FeeBumpStrategy]()

	return nil
}

// SetChangeOutput marks the output owned by the wallet. CPFP eligibility
// and the recommendation are recomputed on next use.
func (a *TransactionAnalyzer) SetChangeOutput(index int) error {
	if err := a.checkChangeIndex(fn.Some(index)); err != nil {
		return err
	}

	a.cfg.ChangeOutputIndex = fn.Some(index)
	a.canCPFP = fn.None[bool]()
	a.strategy = fn.None[FeeBumpStrategy]()

	return nil
}

// SetFullRBF toggles the full RBF override. RBF eligibility and the
// recommendation are recomputed on next use.
func (a *TransactionAnalyzer) SetFullRBF(fullRBF bool) {
	a.cfg.FullRBF = fullRBF
	a.canRBF = fn.None[bool]()
	a.strategy = fn.None[FeeBumpStrategy]()
}

// IsRBFSignaled reports whether any input signals replaceability.
func (a *TransactionAnalyzer) IsRBFSignaled() bool {
	for _, in := range a.tx.TxIn {
		if isReplaceable(in.Sequence) {
			return true
		}
	}

	return false
}

// CanRBF reports whether the transaction can be replaced: it signals
// replaceability, or full RBF is assumed, and when available UTXOs are
// known one of them is spent by the transaction.
func (a *TransactionAnalyzer) CanRBF() bool {
	if a.canRBF.IsSome() {
		return a.canRBF.UnwrapOr(false)
	}

	canRBF := a.computeCanRBF()
	a.canRBF = fn.Some(canRBF)

	return canRBF
}

func (a *TransactionAnalyzer) computeCanRBF() bool {
	if !a.IsRBFSignaled() {
		if !a.cfg.FullRBF {
			log.Debugf("Transaction %v does not signal RBF", a.txid)

			return false
		}

		a.warnf("Transaction %v does not signal RBF, assuming full "+
			"RBF", a.txid)
	}

	if len(a.cfg.AvailableUTXOs) == 0 {
		return true
	}

	for _, in := range a.tx.TxIn {
		if findUTXO(a.cfg.AvailableUTXOs, in.PreviousOutPoint) != nil {
			return true
		}
	}

	log.Debugf("None of the inputs of %v is an available UTXO", a.txid)

	return false
}

// CanCPFP reports whether an output can fund a child. With a known change
// output only that output is considered.
func (a *TransactionAnalyzer) CanCPFP() bool {
	if a.canCPFP.IsSome() {
		return a.canCPFP.UnwrapOr(false)
	}

	canCPFP := a.computeCanCPFP()
	a.canCPFP = fn.Some(canCPFP)

	return canCPFP
}

func (a *TransactionAnalyzer) computeCanCPFP() bool {
	spendable := func(out *wire.TxOut) bool {
		if btcutil.Amount(out.Value) <= a.cfg.DustThreshold {
			return false
		}

		return txrules.CheckOutput(
			out, txrules.DefaultRelayFeePerKb,
		) == nil
	}

	if a.cfg.ChangeOutputIndex.IsSome() {
		index := a.cfg.ChangeOutputIndex.UnwrapOr(0)

		return spendable(a.tx.TxOut[index])
	}

	for _, out := range a.tx.TxOut {
		if spendable(out) {
			return true
		}
	}

	return false
}

// MinimumRBFFee returns the lowest fee a replacement may pay: the original
// fee plus the incremental relay fee over the original size, rounded up.
func (a *TransactionAnalyzer) MinimumRBFFee() btcutil.Amount {
	return a.cfg.AbsoluteFee +
		a.cfg.IncrementalRelayFee.FeeForVByteRoundUp(a.vsize)
}

// RBFFeeRate returns the fee rate of a replacement: the larger of the
// current rate plus the incremental relay fee and the target.
func (a *TransactionAnalyzer) RBFFeeRate() btcunit.SatPerVByte {
	if a.rbfFeeRate.IsSome() {
		return a.rbfFeeRate.UnwrapOr(btcunit.SatPerVByte{})
	}

	rate := btcunit.MaxSatPerVByte(
		a.FeeRate().Add(a.cfg.IncrementalRelayFee), a.cfg.TargetFeeRate,
	)
	a.rbfFeeRate = fn.Some(rate)

	return rate
}

// ChildVSize returns the estimated size of a one input one output child.
func (a *TransactionAnalyzer) ChildVSize() btcunit.VByte {
	return a.cfg.ScriptType.estimateVSize(
		1, 1, a.cfg.RequiredSigners, a.cfg.TotalSigners,
	)
}

// CPFPFeeRate returns the fee rate a child must pay so that parent and
// child together reach the target.
func (a *TransactionAnalyzer) CPFPFeeRate() btcunit.SatPerVByte {
	if a.cpfpFeeRate.IsSome() {
		return a.cpfpFeeRate.UnwrapOr(btcunit.SatPerVByte{})
	}

	childVSize := a.ChildVSize()
	packageFee := a.cfg.TargetFeeRate.FeeForVByteRoundUp(
		a.vsize.Add(childVSize),
	)

	childFee := max(packageFee-a.cfg.AbsoluteFee, 0)
	rate := btcunit.NewSatPerVByteFromRat(big.NewRat(
		int64(childFee), int64(childVSize.Uint64()),
	))
	a.cpfpFeeRate = fn.Some(rate)

	return rate
}

// EstimatedRBFFee returns the fee of a replacement of the same size.
func (a *TransactionAnalyzer) EstimatedRBFFee() btcutil.Amount {
	return a.RBFFeeRate().FeeForVByteRoundUp(a.vsize)
}

// EstimatedCPFPFee returns the fee of a one input one output child.
func (a *TransactionAnalyzer) EstimatedCPFPFee() btcutil.Amount {
	return a.CPFPFeeRate().FeeForVByteRoundUp(a.ChildVSize())
}

// RecommendedStrategy returns the cheaper possible strategy, or
// StrategyNone when the transaction already pays the target.
func (a *TransactionAnalyzer) RecommendedStrategy() FeeBumpStrategy {
	if a.strategy.IsSome() {
		return a.strategy.UnwrapOr(StrategyNone)
	}

	strategy := a.computeStrategy()
	a.strategy = fn.Some(strategy)

	return strategy
}

func (a *TransactionAnalyzer) computeStrategy() FeeBumpStrategy {
	if a.FeeRate().GreaterThanOrEqual(a.cfg.TargetFeeRate) {
		return StrategyNone
	}

	canRBF, canCPFP := a.CanRBF(), a.CanCPFP()
	switch {
	case canRBF && (!canCPFP ||
		a.EstimatedRBFFee() < a.EstimatedCPFPFee()):

		return StrategyRBF

	case canCPFP:
		return StrategyCPFP

	default:
		return StrategyNone
	}
}

// InputTemplates returns the inputs of the transaction as templates with
// their outpoint and sequence. Amounts are unknown and left at zero.
func (a *TransactionAnalyzer) InputTemplates() []*TxInputTemplate {
	inputs := make([]*TxInputTemplate, 0, len(a.tx.TxIn))
	for _, txIn := range a.tx.TxIn {
		in := NewTxInputTemplate(
			txIn.PreviousOutPoint.Hash, txIn.PreviousOutPoint.Index, 0,
		)
		in.sequence = fn.Some(txIn.Sequence)

		inputs = append(inputs, in)
	}

	return inputs
}

// OutputTemplates returns the outputs of the transaction as templates. The
// change output is malleable, every other output is locked.
func (a *TransactionAnalyzer) OutputTemplates() ([]*TxOutputTemplate,
	error) {

	changeIndex := a.cfg.ChangeOutputIndex.UnwrapOr(-1)

	outputs := make([]*TxOutputTemplate, 0, len(a.tx.TxOut))
	for i, txOut := range a.tx.TxOut {
		addr, err := outputAddress(txOut.PkScript, a.cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("output %d of %v: %w", i, a.txid,
				err)
		}

		out, err := NewTxOutputTemplate(
			addr, btcutil.Amount(txOut.Value), i != changeIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("output %d of %v: %w", i, a.txid,
				err)
		}

		outputs = append(outputs, out)
	}

	return outputs, nil
}

// outputAddress derives the single address paid by a standard script.
func outputAddress(pkScript []byte,
	params *chaincfg.Params) (btcutil.Address, error) {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if len(addrs) != 1 {
		return nil, fmt.Errorf("%w: script %x pays %d addresses",
			ErrInvalidOutput, pkScript, len(addrs))
	}

	return addrs[0], nil
}

// findUTXO returns the UTXO at outpoint, or nil.
func findUTXO(utxos []*UTXO, outpoint wire.OutPoint) *UTXO {
	for _, utxo := range utxos {
		if utxo.OutPoint() == outpoint {
			return utxo
		}
	}

	return nil
}

// AnalyzedInput is an input of an analyzed transaction.
type AnalyzedInput struct {
	Txid      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	Sequence  uint32   `json:"sequence"`
	ScriptSig string   `json:"scriptSig,omitempty"`
	Witness   []string `json:"witness,omitempty"`
}

// AnalyzedOutput is an output of an analyzed transaction. Address is empty
// for non-standard scripts.
type AnalyzedOutput struct {
	Value        btcutil.Amount `json:"value"`
	ScriptPubKey string         `json:"scriptPubKey"`
	Address      string         `json:"address,omitempty"`
	IsChange     bool           `json:"isChange"`
}

// AnalysisResult is a snapshot of an analysis.
type AnalysisResult struct {
	Txid                string              `json:"txid"`
	VSize               uint64              `json:"vsize"`
	Weight              uint64              `json:"weight"`
	Fee                 btcutil.Amount      `json:"fee"`
	FeeRate             btcunit.SatPerVByte `json:"feeRate"`
	Inputs              []AnalyzedInput     `json:"inputs"`
	Outputs             []AnalyzedOutput    `json:"outputs"`
	CanRBF              bool                `json:"canRBF"`
	CanCPFP             bool                `json:"canCPFP"`
	RecommendedStrategy FeeBumpStrategy     `json:"recommendedStrategy"`
	MinimumRBFFee       btcutil.Amount      `json:"minimumRBFFee"`
	RBFFeeRate          btcunit.SatPerVByte `json:"rbfFeeRate"`
	CPFPFeeRate         btcunit.SatPerVByte `json:"cpfpFeeRate"`
	EstimatedRBFFee     btcutil.Amount      `json:"estimatedRBFFee"`
	EstimatedCPFPFee    btcutil.Amount      `json:"estimatedCPFPFee"`
	Warnings            []string            `json:"warnings,omitempty"`
}

// Analyze computes every derived value and returns them as a snapshot.
func (a *TransactionAnalyzer) Analyze() *AnalysisResult {
	result := &AnalysisResult{
		Txid:                a.txid.String(),
		VSize:               a.vsize.Uint64(),
		Weight:              a.weight.Uint64(),
		Fee:                 a.cfg.AbsoluteFee,
		FeeRate:             a.FeeRate(),
		CanRBF:              a.CanRBF(),
		CanCPFP:             a.CanCPFP(),
		RecommendedStrategy: a.RecommendedStrategy(),
		MinimumRBFFee:       a.MinimumRBFFee(),
		RBFFeeRate:          a.RBFFeeRate(),
		CPFPFeeRate:         a.CPFPFeeRate(),
		EstimatedRBFFee:     a.EstimatedRBFFee(),
		EstimatedCPFPFee:    a.EstimatedCPFPFee(),
	}

	for _, txIn := range a.tx.TxIn {
		in := AnalyzedInput{
			Txid:     txIn.PreviousOutPoint.Hash.String(),
			Vout:     txIn.PreviousOutPoint.Index,
			Sequence: txIn.Sequence,
		}
		if len(txIn.SignatureScript) > 0 {
			in.ScriptSig = hex.EncodeToString(txIn.SignatureScript)
		}
		for _, item := range txIn.Witness {
			in.Witness = append(in.Witness, hex.EncodeToString(item))
		}

		result.Inputs = append(result.Inputs, in)
	}

	changeIndex := a.cfg.ChangeOutputIndex.UnwrapOr(-1)
	for i, txOut := range a.tx.TxOut {
		out := AnalyzedOutput{
			Value:        btcutil.Amount(txOut.Value),
			ScriptPubKey: hex.EncodeToString(txOut.PkScript),
			IsChange:     i == changeIndex,
		}

		addr, err := outputAddress(txOut.PkScript, a.cfg.Params)
		if err == nil {
			out.Address = addr.EncodeAddress()
		}

		result.Outputs = append(result.Outputs, out)
	}

	result.Warnings = a.Warnings()

	return result
}
