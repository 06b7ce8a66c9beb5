// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtv2

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NewXPub builds a global xpub record from a parsed extended public key. The
// path length must match the depth of the key.
func NewXPub(key *hdkeychain.ExtendedKey, fingerprint uint32,
	path []uint32) (psbt.XPub, error) {

	if key.IsPrivate() {
		return psbt.XPub{}, fmt.Errorf("%w: refusing to embed a "+
			"private key", ErrInvalidPsbtFormat)
	}

	if int(key.Depth()) != len(path) {
		return psbt.XPub{}, fmt.Errorf("%w: xpub depth %d does not "+
			"match path length %d", ErrInvalidPsbtFormat,
			key.Depth(), len(path))
	}

	return psbt.XPub{
		ExtendedKey:          psbt.EncodeExtendedKey(key),
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}, nil
}

// XPubString returns the base58 form of the extended key of a global xpub
// record, or its hex form when it does not decode.
func XPubString(x psbt.XPub) string {
	key, err := decodeExtendedKey(x.ExtendedKey)
	if err != nil {
		return fmt.Sprintf("%x", x.ExtendedKey)
	}

	return key.String()
}

// decodeExtendedKey parses the 78 byte serialization of an extended key.
// psbt.DecodeExtendedKey appends the checksum to its argument, so it is
// handed a copy that does not share the packet buffer.
func decodeExtendedKey(encoded []byte) (*hdkeychain.ExtendedKey, error) {
	return psbt.DecodeExtendedKey(slices.Clone(encoded))
}

// readXPub decodes a global xpub key-value pair.
func readXPub(keyData []byte, value []byte) (*psbt.XPub, error) {
	xpub, err := psbt.ReadXPub(slices.Clone(keyData), value)
	if err != nil {
		return nil, fmt.Errorf("%w: xpub: %w", ErrInvalidPsbtFormat, err)
	}

	return xpub, nil
}

// fnErr returns the error of f applied to a set option, or nil.
func fnErr[T any](o fn.Option[T], f func(T) error) error {
	var err error
	o.WhenSome(func(v T) {
		err = f(v)
	})

	return err
}
