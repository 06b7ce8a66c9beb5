// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtv2

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// separator terminates every key-value map.
var separator = []byte{0x00}

// serializeKVPair writes a key and a value, each prefixed with its compact
// size length.
func serializeKVPair(w io.Writer, key []byte, value []byte) error {
	if err := wire.WriteVarBytes(w, 0, key); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, value)
}

// serializeKVPairWithType writes {type || keydata} as the key.
func serializeKVPairWithType(w io.Writer, kt uint8, keydata []byte,
	value []byte) error {

	serializedKey := make([]byte, 0, 1+len(keydata))
	serializedKey = append(serializedKey, kt)
	serializedKey = append(serializedKey, keydata...)

	return serializeKVPair(w, serializedKey, value)
}

func uint32LE(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	return b[:]
}

func varIntBytes(v uint64) ([]byte, error) {
	var b bytes.Buffer
	if err := wire.WriteVarInt(&b, 0, v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Serialize writes the binary form of the packet. Global fields come first
// in the order version, tx version, counts, locktime, modifiable flags,
// xpubs; each input map starts with its outpoint and sequence. A packet
// that fails SanityCheck is not written.
func (p *Packet) Serialize(w io.Writer) error {
	if err := p.SanityCheck(); err != nil {
		return err
	}

	if _, err := w.Write(psbtMagic[:]); err != nil {
		return err
	}

	if err := p.serializeGlobals(w); err != nil {
		return err
	}

	for i := range p.Inputs {
		if err := p.Inputs[i].serialize(w); err != nil {
			return err
		}
	}

	for i := range p.Outputs {
		if err := p.Outputs[i].serialize(w); err != nil {
			return err
		}
	}

	return nil
}

func (p *Packet) serializeGlobals(w io.Writer) error {
	err := serializeKVPairWithType(
		w, uint8(VersionType), nil, uint32LE(Version),
	)
	if err != nil {
		return err
	}

	err = serializeKVPairWithType(
		w, uint8(TxVersionType), nil, uint32LE(uint32(p.TxVersion)),
	)
	if err != nil {
		return err
	}

	inputCount, err := varIntBytes(uint64(len(p.Inputs)))
	if err != nil {
		return err
	}
	err = serializeKVPairWithType(w, uint8(InputCountType), nil, inputCount)
	if err != nil {
		return err
	}

	outputCount, err := varIntBytes(uint64(len(p.Outputs)))
	if err != nil {
		return err
	}
	err = serializeKVPairWithType(
		w, uint8(OutputCountType), nil, outputCount,
	)
	if err != nil {
		return err
	}

	err = serializeKVPairWithType(
		w, uint8(FallbackLocktimeType), nil,
		uint32LE(p.FallbackLocktime),
	)
	if err != nil {
		return err
	}

	err = fnErr(p.TxModifiable, func(flags uint8) error {
		return serializeKVPairWithType(
			w, uint8(TxModifiableType), nil, []byte{flags},
		)
	})
	if err != nil {
		return err
	}

	for _, xpub := range p.XPubs {
		err := serializeKVPairWithType(
			w, uint8(XpubType), xpub.ExtendedKey,
			psbt.SerializeBIP32Derivation(
				xpub.MasterKeyFingerprint, xpub.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	if err := serializeUnknowns(w, p.Unknowns); err != nil {
		return err
	}

	_, err = w.Write(separator)

	return err
}

func (i *Input) serialize(w io.Writer) error {
	err := serializeKVPairWithType(
		w, uint8(PreviousTxidType), nil, i.PreviousTxid[:],
	)
	if err != nil {
		return err
	}

	err = serializeKVPairWithType(
		w, uint8(OutputIndexType), nil, uint32LE(i.OutputIndex),
	)
	if err != nil {
		return err
	}

	err = fnErr(i.Sequence, func(seq uint32) error {
		return serializeKVPairWithType(
			w, uint8(SequenceType), nil, uint32LE(seq),
		)
	})
	if err != nil {
		return err
	}

	if i.NonWitnessUtxo != nil {
		var buf bytes.Buffer
		if err := i.NonWitnessUtxo.Serialize(&buf); err != nil {
			return err
		}

		err := serializeKVPairWithType(
			w, uint8(NonWitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}

	if i.WitnessUtxo != nil {
		var buf bytes.Buffer
		if err := wire.WriteTxOut(&buf, 0, 0, i.WitnessUtxo); err != nil {
			return err
		}

		err := serializeKVPairWithType(
			w, uint8(WitnessUtxoType), nil, buf.Bytes(),
		)
		if err != nil {
			return err
		}
	}

	if i.RedeemScript != nil {
		err := serializeKVPairWithType(
			w, uint8(RedeemScriptInputType), nil, i.RedeemScript,
		)
		if err != nil {
			return err
		}
	}

	if i.WitnessScript != nil {
		err := serializeKVPairWithType(
			w, uint8(WitnessScriptInputType), nil, i.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	err = serializeDerivations(
		w, uint8(Bip32DerivationInputType), i.Bip32Derivation,
	)
	if err != nil {
		return err
	}

	if err := serializeUnknowns(w, i.Unknowns); err != nil {
		return err
	}

	_, err = w.Write(separator)

	return err
}

func (o *Output) serialize(w io.Writer) error {
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], uint64(o.Amount))

	err := serializeKVPairWithType(w, uint8(AmountType), nil, amount[:])
	if err != nil {
		return err
	}

	err = serializeKVPairWithType(w, uint8(ScriptType), nil, o.Script)
	if err != nil {
		return err
	}

	if o.RedeemScript != nil {
		err := serializeKVPairWithType(
			w, uint8(RedeemScriptOutputType), nil, o.RedeemScript,
		)
		if err != nil {
			return err
		}
	}

	if o.WitnessScript != nil {
		err := serializeKVPairWithType(
			w, uint8(WitnessScriptOutputType), nil, o.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	err = serializeDerivations(
		w, uint8(Bip32DerivationOutputType), o.Bip32Derivation,
	)
	if err != nil {
		return err
	}

	if err := serializeUnknowns(w, o.Unknowns); err != nil {
		return err
	}

	_, err = w.Write(separator)

	return err
}

// serializeDerivations writes the derivations in their given order.
func serializeDerivations(w io.Writer, kt uint8,
	derivations []*psbt.Bip32Derivation) error {

	for _, d := range derivations {
		err := serializeKVPairWithType(
			w, kt, d.PubKey, psbt.SerializeBIP32Derivation(
				d.MasterKeyFingerprint, d.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// serializeUnknowns writes records whose key already includes the type.
func serializeUnknowns(w io.Writer, unknowns []*psbt.Unknown) error {
	for _, kv := range unknowns {
		if err := serializeKVPair(w, kv.Key, kv.Value); err != nil {
			return err
		}
	}

	return nil
}

// Bytes returns the binary serialization of the packet.
func (p *Packet) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := p.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// B64Encode returns the base64 encoding of the serialization of the packet.
func (p *Packet) B64Encode() (string, error) {
	b, err := p.Bytes()
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}
