package errors

import (
	"context"
	"errors"
)

type codeSet map[ERR]struct{}

func newCodeSet(codes ...ERR) codeSet {
	s := make(codeSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}

	return s
}

func (s codeSet) has(c ERR) bool {
	_, ok := s[c]
	return ok
}

// validationCodes reject a block or transaction on consensus or policy grounds.
var validationCodes = newCodeSet(
	ERR_BLOCK_INVALID,
	ERR_BLOCK_EXISTS,
	ERR_BLOCK_PARENT_NOT_FOUND,
	ERR_BLOCK_OVERSIZED,
	ERR_BLOCK_CHECKPOINT,
	ERR_INVALID_POW,
	ERR_TX_INVALID,
	ERR_TX_INVALID_DOUBLE_SPEND,
	ERR_TX_ALREADY_EXISTS,
	ERR_TX_MISSING_INPUTS,
	ERR_TX_IMMATURE_COINBASE,
	ERR_TX_INSUFFICIENT_FEE,
	ERR_TX_REJECTED,
	ERR_INFLATION_MISMATCH,
	ERR_SPENT,
	ERR_REORG_TOO_DEEP,
	ERR_INSUFFICIENT_STAKE,
	ERR_IMMATURE_COINS,
	ERR_INSUFFICIENT_ACTIVITY,
	ERR_SUBNET_SATURATED,
	ERR_INVALID_LOTTERY,
	ERR_TIMESTAMP_OUT_OF_WINDOW,
	ERR_INVALID_SIGNATURE,
	ERR_NOT_ELIGIBLE,
)

var retryableCodes = newCodeSet(
	ERR_NETWORK_TIMEOUT,
	ERR_NETWORK_ERROR,
	ERR_NETWORK_CONNECTION_REFUSED,
	ERR_SERVICE_UNAVAILABLE,
	ERR_STORAGE_UNAVAILABLE,
)

var fatalCodes = newCodeSet(ERR_CHAIN_CORRUPTED, ERR_CHAIN_HALTED)

// IsValidationError reports whether err rejects a block or transaction on consensus or
// policy grounds. Such errors are recoverable: the offending object is dropped and the
// node continues.
func IsValidationError(err error) bool {
	return err != nil && validationCodes.has(CodeOf(err))
}

// IsRetryableError determines if an error is transient and the operation should be retried.
// A cancelled context is never retried.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return retryableCodes.has(CodeOf(err))
}

// IsFatalError reports whether any error in the chain of err requires operator
// intervention. Block processing must stop when a fatal error is seen.
func IsFatalError(err error) bool {
	var tErr *Error
	if !errors.As(err, &tErr) {
		return false
	}

	for e := tErr; e != nil; {
		if fatalCodes.has(e.code) {
			return true
		}

		next, ok := e.wrappedErr.(*Error)
		if !ok {
			return false
		}

		e = next
	}

	return false
}

// IsContextError determines if an error is related to context cancellation or deadline.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	code := CodeOf(err)

	return code == ERR_CONTEXT_CANCELED || code == ERR_CONTEXT
}

var categoryRanges = []struct {
	from, to ERR
	name     string
}{
	{10, 19, "block"},
	{30, 49, "transaction"},
	{50, 59, "service"},
	{60, 69, "storage"},
	{70, 79, "utxo"},
	{100, 109, "state"},
	{110, 119, "network"},
	{120, 139, "participation"},
}

// GetErrorCategory names the family of err, for log fields and metric labels.
func GetErrorCategory(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsContextError(err):
		return "context"
	case IsFatalError(err):
		return "fatal"
	}

	var tErr *Error
	if As(err, &tErr) {
		code := tErr.Code()

		for _, r := range categoryRanges {
			if code >= r.from && code <= r.to {
				return r.name
			}
		}
	}

	return "unknown"
}
