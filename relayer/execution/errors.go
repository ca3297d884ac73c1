// Package execution broadcasts native-token transfers on a target EVM chain
// and tracks each attempt in the persistent store. RPC error strings are
// inspected in exactly one place, the classifier; everything downstream
// switches on the resulting kind.
package execution

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a chain error for retry decisions.
type Kind string

// Chain error kinds. Transient kinds are retried by the executor; permanent
// kinds go straight to the dead letter queue.
const (
	KindNonce             Kind = "nonce"
	KindUnderpriced       Kind = "underpriced"
	KindTimeout           Kind = "timeout"
	KindRPC               Kind = "rpc"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindReverted          Kind = "reverted"
	KindInvalidRecipient  Kind = "invalid_recipient"
	KindMalformed         Kind = "malformed"
)

// ChainError is a classified EVM failure.
type ChainError struct {
	Kind  Kind
	cause error
}

func (e *ChainError) Error() string {
	return string(e.Kind) + ": " + e.cause.Error()
}

// Unwrap exposes the underlying RPC error.
func (e *ChainError) Unwrap() error {
	return e.cause
}

// Permanent reports whether retrying this failure can never succeed.
func (e *ChainError) Permanent() bool {
	switch e.Kind {
	case KindInsufficientFunds, KindReverted, KindInvalidRecipient, KindMalformed:
		return true
	default:
		return false
	}
}

// Classify maps an RPC error to a ChainError. Message fragments below cover
// geth, erigon and the common hosted providers.
func Classify(err error) *ChainError {
	if err == nil {
		return nil
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return &ChainError{Kind: KindTimeout, cause: err}
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high") || strings.Contains(msg, "already known") || strings.Contains(msg, "replacement transaction"):
		return &ChainError{Kind: KindNonce, cause: err}
	case strings.Contains(msg, "underpriced") || strings.Contains(msg, "fee cap less than block base fee"):
		return &ChainError{Kind: KindUnderpriced, cause: err}
	case strings.Contains(msg, "insufficient funds"):
		return &ChainError{Kind: KindInsufficientFunds, cause: err}
	case strings.Contains(msg, "execution reverted"):
		return &ChainError{Kind: KindReverted, cause: err}
	case strings.Contains(msg, "invalid address") || strings.Contains(msg, "invalid recipient"):
		return &ChainError{Kind: KindInvalidRecipient, cause: err}
	default:
		return &ChainError{Kind: KindRPC, cause: err}
	}
}

// newChainError builds a classified error from a local condition rather than
// an RPC response.
func newChainError(kind Kind, msg string) *ChainError {
	return &ChainError{Kind: kind, cause: errors.New(msg)}
}
