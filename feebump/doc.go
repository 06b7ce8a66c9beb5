// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package feebump builds fee-bumping transactions for unconfirmed multisig
spends.

A TransactionAnalyzer inspects an already broadcast transaction and reports
its size, fee rate and whether it can be replaced (BIP 125) or accelerated
with a child spend. The construction functions CancelRBF, AccelerateRBF and
CPFP combine the analysis with a TransactionTemplate and return a base64
encoded version 2 PSBT (BIP 370) ready for signing.

Amounts are whole satoshis and fee rates are exact rationals, see
github.com/btcsuite/feebump/pkg/btcunit. Every fee derived from a rate and
a size is rounded up so the target rate is never underpaid.

Inputs are added in the order the caller lists them. No coin selection is
performed beyond adding available UTXOs until the fee target is met, which
keeps results reproducible for the same request.
*/
package feebump
