// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/feebump/pkg/psbtv2"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ToPsbt returns the template as a base64 version 2 PSBT. With validate set
// the template must pass Validate first; callers building an intentionally
// incomplete transaction may skip it.
func (t *TransactionTemplate) ToPsbt(validate bool) (string, error) {
	if validate {
		if err := t.Validate(); err != nil {
			return "", err
		}
	}

	packet, err := t.ToPacket()
	if err != nil {
		return "", err
	}

	return packet.B64Encode()
}

// ToPacket builds the PSBT packet: global xpubs first, then the inputs and
// outputs in template order. An output without value is an error.
func (t *TransactionTemplate) ToPacket() (*psbtv2.Packet, error) {
	packet := psbtv2.New()
	packet.TxModifiable = fn.Some(
		psbtv2.InputsModifiable | psbtv2.OutputsModifiable,
	)

	for _, xpub := range t.xpubs {
		record, err := xpub.toPsbt()
		if err != nil {
			return nil, err
		}

		if err := packet.AddGlobalXpub(record); err != nil {
			return nil, fmt.Errorf("xpub %s: %w", xpub.Xpub, err)
		}
	}

	for _, in := range t.inputs {
		// The PSBT txid field holds the hash in internal byte order,
		// which is how chainhash.Hash stores it. The big-endian hex
		// form only exists in String and NewHashFromStr.
		err := packet.AddInput(psbtv2.Input{
			PreviousTxid:    in.Txid(),
			OutputIndex:     in.Vout(),
			Sequence:        in.Sequence(),
			NonWitnessUtxo:  in.NonWitnessUtxo(),
			WitnessUtxo:     in.WitnessUtxo(),
			RedeemScript:    in.RedeemScript(),
			WitnessScript:   in.WitnessScript(),
			Bip32Derivation: in.Bip32Derivations(),
		})
		if err != nil {
			return nil, err
		}
	}

	for i, out := range t.outputs {
		if out.Amount() <= 0 {
			return nil, fmt.Errorf("%w: output %d to %v has no value",
				ErrInvalidOutput, i, out.Address())
		}

		script, err := out.PkScript()
		if err != nil {
			return nil, fmt.Errorf("output %d to %v: %w", i,
				out.Address(), err)
		}

		err = packet.AddOutput(psbtv2.Output{
			Amount: int64(out.Amount()),
			Script: script,
		})
		if err != nil {
			return nil, err
		}
	}

	log.Tracef("Built PSBT: %v", newLogClosure(func() string {
		return spew.Sdump(packet)
	}))

	return packet, nil
}

// FromPsbt rebuilds a template from a base64 PSBT, version 2 or version 0.
// Inputs take their amount from the witness utxo, or else from the spent
// output of the non-witness utxo. Outputs are locked.
func FromPsbt(rawPsbt string, cfg TemplateConfig) (*TransactionTemplate,
	error) {

	t, err := NewTransactionTemplate(cfg)
	if err != nil {
		return nil, err
	}

	packet, err := psbtv2.NewFromRawBytes(
		strings.NewReader(strings.TrimSpace(rawPsbt)), true,
	)
	if err != nil {
		return nil, err
	}

	for _, record := range packet.XPubs {
		err := t.AddGlobalXpub(GlobalXpub{
			Xpub:              psbtv2.XPubString(record),
			MasterFingerprint: record.MasterKeyFingerprint,
			Path:              record.Bip32Path,
		})
		switch {
		case errors.Is(err, ErrDuplicateXpub):
			continue

		case err != nil:
			return nil, err
		}
	}

	for i := range packet.Inputs {
		in, err := inputFromPsbt(&packet.Inputs[i])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		t.AddInput(in)
	}

	for i, out := range packet.Outputs {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			out.Script, t.cfg.Params,
		)
		if err != nil || len(addrs) != 1 {
			return nil, fmt.Errorf("%w: output %d: unable to derive "+
				"address from script %x", ErrInvalidOutput, i,
				out.Script)
		}

		output, err := NewTxOutputTemplate(
			addrs[0], btcutil.Amount(out.Amount), true,
		)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		t.AddOutput(output)
	}

	return t, nil
}

func inputFromPsbt(pIn *psbtv2.Input) (*TxInputTemplate, error) {
	in := NewTxInputTemplate(pIn.PreviousTxid, pIn.OutputIndex, 0)
	in.sequence = pIn.Sequence
	in.redeemScript = pIn.RedeemScript
	in.witnessScript = pIn.WitnessScript
	in.derivations = pIn.Bip32Derivation

	if pIn.WitnessUtxo == nil && pIn.NonWitnessUtxo == nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingUtxoData,
			in.OutPoint())
	}

	if pIn.NonWitnessUtxo != nil {
		if err := in.SetNonWitnessUtxo(pIn.NonWitnessUtxo); err != nil {
			return nil, err
		}

		spent := pIn.NonWitnessUtxo.TxOut[pIn.OutputIndex]
		in.amount = btcutil.Amount(spent.Value)
	}

	if pIn.WitnessUtxo != nil {
		in.SetWitnessUtxo(pIn.WitnessUtxo)
		in.amount = btcutil.Amount(pIn.WitnessUtxo.Value)
	}

	if in.amount < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeAmount, in)
	}

	return in, nil
}
