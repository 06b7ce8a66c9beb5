// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtv2

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// kvPair is one raw record of a PSBT map.
type kvPair struct {
	keyType   uint8
	keyData   []byte
	valueData []byte
}

// unknown converts the pair back to a record whose key includes the type.
func (kv *kvPair) unknown() *psbt.Unknown {
	key := make([]byte, 0, 1+len(kv.keyData))
	key = append(key, kv.keyType)
	key = append(key, kv.keyData...)

	return &psbt.Unknown{Key: key, Value: kv.valueData}
}

// getKVPair reads a single key-value pair. A nil pair without error marks
// the separator at the end of a map.
func getKVPair(r io.Reader) (*kvPair, error) {
	// The key length is read separately since a zero length is the map
	// separator rather than an empty key.
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: key length: %w",
			ErrInvalidPsbtFormat, err)
	}
	if count == 0 {
		return nil, nil
	}

	if count > MaxPsbtKeyLength {
		return nil, fmt.Errorf("%w: key of %d bytes",
			ErrInvalidPsbtFormat, count)
	}

	key := make([]byte, count)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: key: %w", ErrInvalidPsbtFormat, err)
	}

	value, err := wire.ReadVarBytes(
		r, 0, MaxPsbtValueLength, "PSBT value",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: value: %w", ErrInvalidPsbtFormat,
			err)
	}

	kv := &kvPair{
		keyType:   key[0],
		valueData: value,
	}
	if len(key) > 1 {
		kv.keyData = key[1:]
	}

	return kv, nil
}

// readMap reads all pairs of a map up to and including its separator,
// rejecting repeated keys.
func readMap(r io.Reader) ([]*kvPair, error) {
	seen := make(map[string]struct{})

	var pairs []*kvPair
	for {
		kv, err := getKVPair(r)
		if err != nil {
			return nil, err
		}

		if kv == nil {
			return pairs, nil
		}

		key := string(append([]byte{kv.keyType}, kv.keyData...))
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: key %x", ErrDuplicateKey,
				[]byte(key))
		}
		seen[key] = struct{}{}

		pairs = append(pairs, kv)
	}
}

// NewFromRawBytes parses a serialized packet, base64 encoded when b64 is
// set. Version 0 packets are parsed with btcutil/psbt and converted to
// version 2.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	if b64 {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return Parse(raw)
}

// Parse decodes the binary serialization of a packet.
func Parse(raw []byte) (*Packet, error) {
	if len(raw) < len(psbtMagic) ||
		!bytes.Equal(raw[:len(psbtMagic)], psbtMagic[:]) {

		return nil, ErrInvalidMagicBytes
	}

	r := bytes.NewReader(raw[len(psbtMagic):])

	globals, err := readMap(r)
	if err != nil {
		return nil, err
	}

	// A version 0 packet is recognized by its global unsigned tx.
	for _, kv := range globals {
		if GlobalType(kv.keyType) == UnsignedTxType {
			return parseV0(raw)
		}
	}

	p := &Packet{}
	inputCount, outputCount, err := p.parseGlobals(globals)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < inputCount; i++ {
		pairs, err := readMap(r)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		in, err := parseInput(pairs)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		p.Inputs = append(p.Inputs, *in)
	}

	for i := uint64(0); i < outputCount; i++ {
		pairs, err := readMap(r)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		out, err := parseOutput(pairs)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		p.Outputs = append(p.Outputs, *out)
	}

	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	log.Tracef("Parsed PSBT: %v", newLogClosure(func() string {
		return spew.Sdump(p)
	}))

	return p, nil
}

func parseV0(raw []byte) (*Packet, error) {
	v0, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: version 0: %w", ErrInvalidPsbtFormat,
			err)
	}

	return FromV0(v0)
}

// parseGlobals fills the global fields and returns the declared input and
// output counts.
func (p *Packet) parseGlobals(globals []*kvPair) (uint64, uint64, error) {
	var (
		version     fn.Option[uint32]
		txVersion   fn.Option[int32]
		inputCount  fn.Option[uint64]
		outputCount fn.Option[uint64]
	)

	for _, kv := range globals {
		switch GlobalType(kv.keyType) {
		case VersionType:
			v, err := readUint32(kv)
			if err != nil {
				return 0, 0, err
			}
			version = fn.Some(v)

		case TxVersionType:
			v, err := readUint32(kv)
			if err != nil {
				return 0, 0, err
			}
			txVersion = fn.Some(int32(v))

		case FallbackLocktimeType:
			v, err := readUint32(kv)
			if err != nil {
				return 0, 0, err
			}
			p.FallbackLocktime = v

		case InputCountType:
			v, err := readCount(kv)
			if err != nil {
				return 0, 0, err
			}
			inputCount = fn.Some(v)

		case OutputCountType:
			v, err := readCount(kv)
			if err != nil {
				return 0, 0, err
			}
			outputCount = fn.Some(v)

		case TxModifiableType:
			if kv.keyData != nil || len(kv.valueData) != 1 {
				return 0, 0, fmt.Errorf("%w: tx modifiable",
					ErrInvalidPsbtFormat)
			}
			p.TxModifiable = fn.Some(kv.valueData[0])

		case XpubType:
			if len(kv.keyData) != xpubKeyLength {
				return 0, 0, fmt.Errorf("%w: xpub key of %d "+
					"bytes", ErrInvalidPsbtFormat,
					len(kv.keyData))
			}

			xpub, err := readXPub(kv.keyData, kv.valueData)
			if err != nil {
				return 0, 0, err
			}
			p.XPubs = append(p.XPubs, *xpub)

		default:
			p.Unknowns = append(p.Unknowns, kv.unknown())
		}
	}

	if v := version.UnwrapOr(0); v != Version {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	if !txVersion.IsSome() || !inputCount.IsSome() ||
		!outputCount.IsSome() {

		return 0, 0, fmt.Errorf("%w: missing required global field",
			ErrInvalidPsbtFormat)
	}

	p.TxVersion = txVersion.UnwrapOr(DefaultTxVersion)

	return inputCount.UnwrapOr(0), outputCount.UnwrapOr(0), nil
}

func parseInput(pairs []*kvPair) (*Input, error) {
	var (
		in       Input
		hasTxid  bool
		hasIndex bool
	)

	for _, kv := range pairs {
		switch InputType(kv.keyType) {
		case PreviousTxidType:
			if kv.keyData != nil ||
				len(kv.valueData) != chainhash.HashSize {

				return nil, fmt.Errorf("%w: previous txid",
					ErrInvalidPsbtFormat)
			}
			copy(in.PreviousTxid[:], kv.valueData)
			hasTxid = true

		case OutputIndexType:
			v, err := readUint32(kv)
			if err != nil {
				return nil, err
			}
			in.OutputIndex = v
			hasIndex = true

		case SequenceType:
			v, err := readUint32(kv)
			if err != nil {
				return nil, err
			}
			in.Sequence = fn.Some(v)

		case NonWitnessUtxoType:
			if kv.keyData != nil {
				return nil, fmt.Errorf("%w: non-witness utxo key",
					ErrInvalidPsbtFormat)
			}

			tx := wire.NewMsgTx(wire.TxVersion)
			err := tx.Deserialize(bytes.NewReader(kv.valueData))
			if err != nil {
				return nil, fmt.Errorf("%w: non-witness utxo: %w",
					ErrInvalidPsbtFormat, err)
			}
			in.NonWitnessUtxo = tx

		case WitnessUtxoType:
			if kv.keyData != nil {
				return nil, fmt.Errorf("%w: witness utxo key",
					ErrInvalidPsbtFormat)
			}

			txOut, err := readTxOut(kv.valueData)
			if err != nil {
				return nil, err
			}
			in.WitnessUtxo = txOut

		case RedeemScriptInputType:
			if kv.keyData != nil {
				return nil, fmt.Errorf("%w: redeem script key",
					ErrInvalidPsbtFormat)
			}
			in.RedeemScript = kv.valueData

		case WitnessScriptInputType:
			if kv.keyData != nil {
				return nil, fmt.Errorf("%w: witness script key",
					ErrInvalidPsbtFormat)
			}
			in.WitnessScript = kv.valueData

		case Bip32DerivationInputType:
			d, err := readDerivation(kv)
			if err != nil {
				return nil, err
			}
			in.Bip32Derivation = append(in.Bip32Derivation, d)

		default:
			in.Unknowns = append(in.Unknowns, kv.unknown())
		}
	}

	if !hasTxid || !hasIndex {
		return nil, fmt.Errorf("%w: input without outpoint",
			ErrInvalidPsbtFormat)
	}

	return &in, nil
}

func parseOutput(pairs []*kvPair) (*Output, error) {
	var (
		out       Output
		hasAmount bool
	)

	for _, kv := range pairs {
		switch OutputType(kv.keyType) {
		case AmountType:
			if kv.keyData != nil || len(kv.valueData) != 8 {
				return nil, fmt.Errorf("%w: amount",
					ErrInvalidPsbtFormat)
			}
			out.Amount = int64(binary.LittleEndian.Uint64(kv.valueData))
			hasAmount = true

		case ScriptType:
			if kv.keyData != nil {
				return nil, fmt.Errorf("%w: script key",
					ErrInvalidPsbtFormat)
			}
			out.Script = kv.valueData

		case RedeemScriptOutputType:
			out.RedeemScript = kv.valueData

		case WitnessScriptOutputType:
			out.WitnessScript = kv.valueData

		case Bip32DerivationOutputType:
			d, err := readDerivation(kv)
			if err != nil {
				return nil, err
			}
			out.Bip32Derivation = append(out.Bip32Derivation, d)

		default:
			out.Unknowns = append(out.Unknowns, kv.unknown())
		}
	}

	if !hasAmount || len(out.Script) == 0 {
		return nil, fmt.Errorf("%w: output needs amount and script",
			ErrInvalidPsbtFormat)
	}

	return &out, nil
}

func readUint32(kv *kvPair) (uint32, error) {
	if kv.keyData != nil || len(kv.valueData) != 4 {
		return 0, fmt.Errorf("%w: key type %#x wants 4 byte value",
			ErrInvalidPsbtFormat, kv.keyType)
	}

	return binary.LittleEndian.Uint32(kv.valueData), nil
}

func readCount(kv *kvPair) (uint64, error) {
	if kv.keyData != nil || len(kv.valueData) == 0 {
		return 0, fmt.Errorf("%w: key type %#x wants a count",
			ErrInvalidPsbtFormat, kv.keyType)
	}

	return wire.ReadVarInt(bytes.NewReader(kv.valueData), 0)
}

// readTxOut decodes value || varint(len) || script, requiring the record to
// be consumed exactly.
func readTxOut(b []byte) (*wire.TxOut, error) {
	if len(b) < 9 {
		return nil, fmt.Errorf("%w: witness utxo too short",
			ErrInvalidPsbtFormat)
	}

	value := int64(binary.LittleEndian.Uint64(b[:8]))

	r := bytes.NewReader(b[8:])
	script, err := wire.ReadVarBytes(
		r, 0, MaxPsbtValueLength, "witness utxo script",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: witness utxo: %w",
			ErrInvalidPsbtFormat, err)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing witness utxo bytes",
			ErrInvalidPsbtFormat)
	}

	return wire.NewTxOut(value, script), nil
}

func readDerivation(kv *kvPair) (*psbt.Bip32Derivation, error) {
	if len(kv.keyData) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("%w: derivation pubkey of %d bytes",
			ErrInvalidDerivation, len(kv.keyData))
	}

	fingerprint, path, err := psbt.ReadBip32Derivation(kv.valueData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDerivation, err)
	}

	return &psbt.Bip32Derivation{
		PubKey:               kv.keyData,
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}, nil
}
