// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"
)

// Strictness selects whether recoverable problems fail a construction or
// are reported as warnings.
type Strictness uint8

const (
	// Lenient produces a working but possibly suboptimal transaction and
	// reports what was suboptimal in Result.Warnings.
	Lenient Strictness = iota

	// Strict fails on every problem.
	Strict
)

// String returns the name of the strictness.
func (s Strictness) String() string {
	switch s {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Strictness(%d)", uint8(s))
	}
}

// Result is the outcome of a fee bump construction.
type Result struct {
	// Psbt is the base64 version 2 PSBT of the new transaction.
	Psbt string

	// Template is the template the PSBT was built from.
	Template *TransactionTemplate

	// Warnings lists the recoverable problems met on the way.
	Warnings []string
}
