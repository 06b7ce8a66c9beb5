// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/feebump/pkg/psbtv2"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// UTXO is an unspent output that can be used as an input. The caller owns
// it; templates built from it share its scripts and derivations.
type UTXO struct {
	// Txid is the hash of the transaction holding the output. Like every
	// chainhash.Hash it is displayed and encoded in JSON in big-endian
	// order.
	Txid chainhash.Hash

	// Vout is the index of the output.
	Vout uint32

	// Value is the amount of the output.
	Value btcutil.Amount

	// Sequence is the sequence to spend the output with, if known.
	Sequence fn.Option[uint32]

	// PrevTx is the full transaction holding the output.
	PrevTx *wire.MsgTx

	// WitnessUtxo is the value and script pair signed by segwit inputs.
	WitnessUtxo *wire.TxOut

	RedeemScript     []byte
	WitnessScript    []byte
	Bip32Derivations []*psbt.Bip32Derivation
}

// OutPoint returns the outpoint of the UTXO.
func (u *UTXO) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: u.Txid, Index: u.Vout}
}

// utxoJSON is the wire form of a UTXO. Amounts may be JSON numbers or
// decimal strings, binary fields are hex.
type utxoJSON struct {
	Txid             string           `json:"txid"`
	Vout             uint32           `json:"vout"`
	Value            JSONAmount       `json:"value"`
	Sequence         *uint32          `json:"sequence,omitempty"`
	PrevTxHex        string           `json:"prevTxHex,omitempty"`
	WitnessUtxo      *witnessUtxoJSON `json:"witnessUtxo,omitempty"`
	RedeemScript     string           `json:"redeemScript,omitempty"`
	WitnessScript    string           `json:"witnessScript,omitempty"`
	Bip32Derivations []derivationJSON `json:"bip32Derivations,omitempty"`
}

type witnessUtxoJSON struct {
	Script string     `json:"script"`
	Value  JSONAmount `json:"value"`
}

type derivationJSON struct {
	Pubkey            string `json:"pubkey"`
	MasterFingerprint string `json:"masterFingerprint"`
	Path              string `json:"path"`
}

// JSONAmount is a satoshi amount encoded as a number or a string.
type JSONAmount btcutil.Amount

// UnmarshalJSON accepts 546 as well as "546".
func (a *JSONAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", b, err)
	}

	*a = JSONAmount(v)

	return nil
}

// MarshalJSON encodes the amount as a decimal string so large values
// survive JSON consumers using floating point.
func (a JSONAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(a), 10))
}

// UnmarshalJSON decodes a UTXO from its JSON form.
func (u *UTXO) UnmarshalJSON(b []byte) error {
	var raw utxoJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	txid, err := chainhash.NewHashFromStr(raw.Txid)
	if err != nil || len(raw.Txid) != chainhash.MaxHashStringSize {
		return fmt.Errorf("%w: %q", ErrInvalidTxid, raw.Txid)
	}

	utxo := UTXO{
		Txid:  *txid,
		Vout:  raw.Vout,
		Value: btcutil.Amount(raw.Value),
	}

	if raw.Sequence != nil {
		utxo.Sequence = fn.Some(*raw.Sequence)
	}

	if raw.PrevTxHex != "" {
		utxo.PrevTx, err = decodeTxHex(raw.PrevTxHex)
		if err != nil {
			return fmt.Errorf("utxo %v:%d: %w", txid, raw.Vout, err)
		}
	}

	if raw.WitnessUtxo != nil {
		script, err := hex.DecodeString(raw.WitnessUtxo.Script)
		if err != nil {
			return fmt.Errorf("utxo %v:%d witness script: %w", txid,
				raw.Vout, err)
		}

		utxo.WitnessUtxo = wire.NewTxOut(
			int64(raw.WitnessUtxo.Value), script,
		)
	}

	utxo.RedeemScript, err = decodeOptionalHex(raw.RedeemScript)
	if err != nil {
		return fmt.Errorf("utxo %v:%d redeem script: %w", txid,
			raw.Vout, err)
	}

	utxo.WitnessScript, err = decodeOptionalHex(raw.WitnessScript)
	if err != nil {
		return fmt.Errorf("utxo %v:%d witness script: %w", txid,
			raw.Vout, err)
	}

	for _, d := range raw.Bip32Derivations {
		derivation, err := d.toDerivation()
		if err != nil {
			return fmt.Errorf("utxo %v:%d: %w", txid, raw.Vout, err)
		}

		utxo.Bip32Derivations = append(utxo.Bip32Derivations, derivation)
	}

	*u = utxo

	return nil
}

// MarshalJSON encodes the UTXO in the same form UnmarshalJSON reads.
func (u UTXO) MarshalJSON() ([]byte, error) {
	raw := utxoJSON{
		Txid:          u.Txid.String(),
		Vout:          u.Vout,
		Value:         JSONAmount(u.Value),
		RedeemScript:  hex.EncodeToString(u.RedeemScript),
		WitnessScript: hex.EncodeToString(u.WitnessScript),
	}

	u.Sequence.WhenSome(func(seq uint32) {
		raw.Sequence = &seq
	})

	if u.PrevTx != nil {
		var buf bytes.Buffer
		if err := u.PrevTx.Serialize(&buf); err != nil {
			return nil, err
		}
		raw.PrevTxHex = hex.EncodeToString(buf.Bytes())
	}

	if u.WitnessUtxo != nil {
		raw.WitnessUtxo = &witnessUtxoJSON{
			Script: hex.EncodeToString(u.WitnessUtxo.PkScript),
			Value:  JSONAmount(u.WitnessUtxo.Value),
		}
	}

	for _, d := range u.Bip32Derivations {
		raw.Bip32Derivations = append(raw.Bip32Derivations,
			derivationJSON{
				Pubkey: hex.EncodeToString(d.PubKey),
				MasterFingerprint: FormatFingerprint(
					d.MasterKeyFingerprint,
				),
				Path: FormatDerivationPath(d.Bip32Path),
			})
	}

	return json.Marshal(raw)
}

func (d derivationJSON) toDerivation() (*psbt.Bip32Derivation, error) {
	pubKey, err := hex.DecodeString(d.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("derivation pubkey: %w", err)
	}

	fingerprint, err := ParseFingerprint(d.MasterFingerprint)
	if err != nil {
		return nil, err
	}

	path, err := ParseDerivationPath(d.Path)
	if err != nil {
		return nil, err
	}

	return &psbt.Bip32Derivation{
		PubKey:               pubKey,
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}, nil
}

// GlobalXpub is an extended public key of a cosigner with the fingerprint
// of its master key and its derivation path.
type GlobalXpub struct {
	Xpub              string
	MasterFingerprint uint32
	Path              []uint32
}

type globalXpubJSON struct {
	Xpub              string `json:"xpub"`
	MasterFingerprint string `json:"masterFingerprint"`
	Path              string `json:"path"`
}

// UnmarshalJSON decodes a global xpub with a hex fingerprint and a path
// such as m/48'/1'/0'/2'.
func (g *GlobalXpub) UnmarshalJSON(b []byte) error {
	var raw globalXpubJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	fingerprint, err := ParseFingerprint(raw.MasterFingerprint)
	if err != nil {
		return err
	}

	path, err := ParseDerivationPath(raw.Path)
	if err != nil {
		return err
	}

	*g = GlobalXpub{
		Xpub:              raw.Xpub,
		MasterFingerprint: fingerprint,
		Path:              path,
	}

	return nil
}

// MarshalJSON encodes the xpub in the form UnmarshalJSON reads.
func (g GlobalXpub) MarshalJSON() ([]byte, error) {
	return json.Marshal(globalXpubJSON{
		Xpub:              g.Xpub,
		MasterFingerprint: FormatFingerprint(g.MasterFingerprint),
		Path:              FormatDerivationPath(g.Path),
	})
}

// toPsbt converts the xpub to its PSBT record.
func (g GlobalXpub) toPsbt() (psbt.XPub, error) {
	key, err := hdkeychain.NewKeyFromString(g.Xpub)
	if err != nil {
		return psbt.XPub{}, fmt.Errorf("xpub %s: %w", g.Xpub, err)
	}

	return psbtv2.NewXPub(key, g.MasterFingerprint, g.Path)
}

// ParseFingerprint decodes a 4 byte hex master key fingerprint. The result
// is the little-endian reading of the bytes, the form BIP 174 serializes.
func ParseFingerprint(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("invalid fingerprint %q", s)
	}

	return binary.LittleEndian.Uint32(b), nil
}

// FormatFingerprint is the inverse of ParseFingerprint.
func FormatFingerprint(fingerprint uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], fingerprint)

	return hex.EncodeToString(b[:])
}

// ParseDerivationPath parses a BIP32 path such as m/84'/1'/0'/0/9. Both '
// and h mark hardened elements.
func ParseDerivationPath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path != "m" && !strings.HasPrefix(path, "m/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDerivationPath, path)
	}

	elements := strings.Split(path, "/")[1:]
	result := make([]uint32, 0, len(elements))

	for _, element := range elements {
		offset := uint32(0)
		trimmed := strings.TrimRight(element, "'hH")
		if len(trimmed) == len(element)-1 {
			offset = hdkeychain.HardenedKeyStart
		} else if len(trimmed) != len(element) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDerivationPath,
				path)
		}

		index, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil || index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDerivationPath,
				path)
		}

		result = append(result, uint32(index)+offset)
	}

	return result, nil
}

// FormatDerivationPath formats a path with ' for hardened elements.
func FormatDerivationPath(path []uint32) string {
	var sb strings.Builder
	sb.WriteString("m")

	for _, index := range path {
		if index >= hdkeychain.HardenedKeyStart {
			fmt.Fprintf(&sb, "/%d'", index-hdkeychain.HardenedKeyStart)
			continue
		}

		fmt.Fprintf(&sb, "/%d", index)
	}

	return sb.String()
}

// decodeTxHex decodes a serialized transaction.
func decodeTxHex(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(txHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	r := bytes.NewReader(raw)
	if err := tx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes",
			ErrInvalidTransaction, r.Len())
	}

	return tx, nil
}

func decodeOptionalHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	return hex.DecodeString(s)
}
