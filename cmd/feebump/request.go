// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/feebump/feebump"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// operation names a fee bump request.
type operation string

const (
	opAnalyze    operation = "analyze"
	opCancel     operation = "cancel"
	opAccelerate operation = "accelerate"
	opCPFP       operation = "cpfp"
)

var errUnknownOperation = errors.New("unknown operation")

// request is the JSON form of a single fee bump request. Amounts are
// satoshis given as numbers or decimal strings, fee rates are sat/vB.
type request struct {
	Operation operation `json:"operation"`
	Network   string    `json:"network"`

	TxHex               string               `json:"txHex"`
	TargetFeeRate       btcunit.SatPerVByte  `json:"targetFeeRate"`
	AbsoluteFee         feebump.JSONAmount   `json:"absoluteFee"`
	AvailableUTXOs      []*feebump.UTXO      `json:"availableUtxos"`
	ScriptType          feebump.ScriptType   `json:"scriptType"`
	RequiredSigners     int                  `json:"requiredSigners"`
	TotalSigners        int                  `json:"totalSigners"`
	DustThreshold       feebump.JSONAmount   `json:"dustThreshold"`
	IncrementalRelayFee btcunit.SatPerVByte  `json:"incrementalRelayFee"`
	GlobalXpubs         []feebump.GlobalXpub `json:"globalXpubs"`
	MaxAbsoluteFee      feebump.JSONAmount   `json:"maxAbsoluteFee"`
	Strict              *bool                `json:"strict"`
	FullRBF             *bool                `json:"fullRbf"`

	CancelAddress  string `json:"cancelAddress"`
	ReuseAllInputs *bool  `json:"reuseAllInputs"`

	ChangeIndex   *int   `json:"changeIndex"`
	ChangeAddress string `json:"changeAddress"`

	SpendableOutputIndex int           `json:"spendableOutputIndex"`
	ParentUTXO           *feebump.UTXO `json:"parentUtxo"`
}

// response is the JSON output of a processed request. Exactly one of
// Analysis, Psbt and Error is set.
type response struct {
	File      string                  `json:"file"`
	Operation operation               `json:"operation,omitempty"`
	Psbt      string                  `json:"psbt,omitempty"`
	Fee       *feebump.JSONAmount     `json:"fee,omitempty"`
	FeeRate   *btcunit.SatPerVByte    `json:"feeRate,omitempty"`
	Analysis  *feebump.AnalysisResult `json:"analysis,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// readRequest decodes the request stored in file. Unknown fields are
// rejected so that misspelled options are not silently ignored.
func readRequest(file string) (*request, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var req request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}

	return &req, nil
}

// params returns the network of the request, falling back to the network
// selected on the command line.
func (r *request) params(cfg *config) (*chaincfg.Params, error) {
	if r.Network == "" {
		return cfg.params, nil
	}

	return feebump.ParseNetwork(r.Network)
}

// address decodes an optional address. An empty string is no address.
func address(addr string, params *chaincfg.Params) (btcutil.Address,
	error) {

	if addr == "" {
		return nil, nil
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("address %s: %w", addr, err)
	}

	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address %s is not for %s", addr,
			params.Name)
	}

	return decoded, nil
}

// boolOr returns the value of an optional flag or def.
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}

	return *b
}

// baseOptions returns the options shared by the construction requests.
func (r *request) baseOptions(cfg *config,
	params *chaincfg.Params) feebump.BaseOptions {

	strictness := feebump.Lenient
	if boolOr(r.Strict, cfg.Strict) {
		strictness = feebump.Strict
	}

	return feebump.BaseOptions{
		TxHex:               r.TxHex,
		Params:              params,
		TargetFeeRate:       r.TargetFeeRate,
		AbsoluteFee:         btcutil.Amount(r.AbsoluteFee),
		AvailableUTXOs:      r.AvailableUTXOs,
		ScriptType:          r.ScriptType,
		RequiredSigners:     r.RequiredSigners,
		TotalSigners:        r.TotalSigners,
		DustThreshold:       btcutil.Amount(r.DustThreshold),
		IncrementalRelayFee: r.IncrementalRelayFee,
		GlobalXpubs:         r.GlobalXpubs,
		MaxFeeRate:          cfg.maxFeeRate,
		MaxAbsoluteFee:      btcutil.Amount(r.MaxAbsoluteFee),
		Strictness:          strictness,
	}
}

// process runs the request and returns its response. Failures of the
// request itself are reported in the response, not as an error.
func (r *request) process(cfg *config, file string) *response {
	resp := &response{File: file, Operation: r.Operation}

	err := r.run(cfg, resp)
	if err != nil {
		log.Errorf("Request %s (%s) failed: %v", file, r.Operation, err)
		resp.Error = err.Error()
	}

	return resp
}

func (r *request) run(cfg *config, resp *response) error {
	params, err := r.params(cfg)
	if err != nil {
		return err
	}

	var result *feebump.Result
	switch r.Operation {
	case opAnalyze:
		analysis, err := r.analyze(cfg, params)
		if err != nil {
			return err
		}

		resp.Analysis = analysis
		resp.Warnings = analysis.Warnings

		return nil

	case opCancel:
		result, err = r.cancel(cfg, params)

	case opAccelerate:
		result, err = r.accelerate(cfg, params)

	case opCPFP:
		result, err = r.cpfp(cfg, params)

	default:
		return fmt.Errorf("%w: %q", errUnknownOperation, r.Operation)
	}
	if err != nil {
		return err
	}

	fee := feebump.JSONAmount(result.Template.CurrentFee())
	rate := result.Template.EstimatedFeeRate()

	resp.Psbt = result.Psbt
	resp.Fee = &fee
	resp.FeeRate = &rate
	resp.Warnings = result.Warnings

	log.Infof("Built %s PSBT for %s paying %v at %v sat/vB", r.Operation,
		resp.File, result.Template.CurrentFee(), rate)

	return nil
}

func (r *request) analyze(cfg *config,
	params *chaincfg.Params) (*feebump.AnalysisResult, error) {

	analyzerCfg := feebump.AnalyzerConfig{
		TxHex:               r.TxHex,
		Params:              params,
		TargetFeeRate:       r.TargetFeeRate,
		AbsoluteFee:         btcutil.Amount(r.AbsoluteFee),
		AvailableUTXOs:      r.AvailableUTXOs,
		ScriptType:          r.ScriptType,
		RequiredSigners:     r.RequiredSigners,
		TotalSigners:        r.TotalSigners,
		IncrementalRelayFee: r.IncrementalRelayFee,
		DustThreshold:       btcutil.Amount(r.DustThreshold),
		FullRBF:             boolOr(r.FullRBF, cfg.FullRBF),
	}
	if r.ChangeIndex != nil {
		analyzerCfg.ChangeOutputIndex = fn.Some(*r.ChangeIndex)
	}

	analyzer, err := feebump.NewTransactionAnalyzer(analyzerCfg)
	if err != nil {
		return nil, err
	}

	return analyzer.Analyze(), nil
}

func (r *request) cancel(cfg *config,
	params *chaincfg.Params) (*feebump.Result, error) {

	cancelAddr, err := address(r.CancelAddress, params)
	if err != nil {
		return nil, err
	}

	return feebump.CancelRBF(feebump.CancelRBFOptions{
		BaseOptions:    r.baseOptions(cfg, params),
		CancelAddress:  cancelAddr,
		ReuseAllInputs: boolOr(r.ReuseAllInputs, false),
		FullRBF:        boolOr(r.FullRBF, cfg.FullRBF),
	})
}

func (r *request) accelerate(cfg *config,
	params *chaincfg.Params) (*feebump.Result, error) {

	changeAddr, err := address(r.ChangeAddress, params)
	if err != nil {
		return nil, err
	}

	opts := feebump.AccelerateRBFOptions{
		BaseOptions:   r.baseOptions(cfg, params),
		ChangeAddress: changeAddr,
		FullRBF:       boolOr(r.FullRBF, cfg.FullRBF),
	}
	if r.ChangeIndex != nil {
		opts.ChangeIndex = fn.Some(*r.ChangeIndex)
	}
	if r.ReuseAllInputs != nil {
		opts.ReuseAllInputs = fn.Some(*r.ReuseAllInputs)
	}

	return feebump.AccelerateRBF(opts)
}

func (r *request) cpfp(cfg *config,
	params *chaincfg.Params) (*feebump.Result, error) {

	changeAddr, err := address(r.ChangeAddress, params)
	if err != nil {
		return nil, err
	}

	return feebump.CPFP(feebump.CPFPOptions{
		BaseOptions:          r.baseOptions(cfg, params),
		SpendableOutputIndex: r.SpendableOutputIndex,
		ChangeAddress:        changeAddr,
		ParentUTXO:           r.ParentUTXO,
	})
}
