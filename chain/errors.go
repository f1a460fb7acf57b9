// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import "fmt"

// ErrorCode identifies a class of block or transaction validation
// failure, following btcd/exccd's RuleError convention rather than
// bare sentinel errors, so callers can branch on the failure class
// (spec.md §7's taxonomy) without string matching.
type ErrorCode int

const (
	// Transaction error codes.
	ErrTxInvalid ErrorCode = iota
	ErrTxInvalidSignature
	ErrTxMissingInput
	ErrTxNotEnoughMoney
	ErrTxInputOutputMismatch
	ErrTxTotalValueMismatch

	// Block error codes.
	ErrBlockWrongVersion
	ErrBlockInvalidMerkle
	ErrBlockInvalidHash
	ErrBlockInvalidSignature
	ErrBlockAboveTarget
	ErrBlockFork
	ErrBlockCoinbaseMismatch
	ErrBlockTimeTooSoon
	ErrBlockTimeInFuture
)

var errorCodeStrings = map[ErrorCode]string{
	ErrTxInvalid:             "ErrTxInvalid",
	ErrTxInvalidSignature:    "ErrTxInvalidSignature",
	ErrTxMissingInput:        "ErrTxMissingInput",
	ErrTxNotEnoughMoney:      "ErrTxNotEnoughMoney",
	ErrTxInputOutputMismatch: "ErrTxInputOutputMismatch",
	ErrTxTotalValueMismatch:  "ErrTxTotalValueMismatch",
	ErrBlockWrongVersion:     "ErrBlockWrongVersion",
	ErrBlockInvalidMerkle:    "ErrBlockInvalidMerkle",
	ErrBlockInvalidHash:      "ErrBlockInvalidHash",
	ErrBlockInvalidSignature: "ErrBlockInvalidSignature",
	ErrBlockAboveTarget:      "ErrBlockAboveTarget",
	ErrBlockFork:             "ErrBlockFork",
	ErrBlockCoinbaseMismatch: "ErrBlockCoinbaseMismatch",
	ErrBlockTimeTooSoon:      "ErrBlockTimeTooSoon",
	ErrBlockTimeInFuture:     "ErrBlockTimeInFuture",
}

// String satisfies fmt.Stringer.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return "ErrUnknown"
}

// RuleError identifies a rule violation encountered while validating a
// block or transaction.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// Is supports errors.Is(err, ruleError(code, "")) style comparisons by
// error code alone.
func (e RuleError) Is(target error) bool {
	var re RuleError
	if as, ok := target.(RuleError); ok {
		re = as
	} else {
		return false
	}
	return e.ErrorCode == re.ErrorCode
}

func ruleError(code ErrorCode, format string, args ...interface{}) RuleError {
	return RuleError{ErrorCode: code, Description: fmt.Sprintf(format, args...)}
}
