// Package errors defines the router error taxonomy. Every rejection the
// router reports over messaging or the admin surface carries one of the
// kinds below, so peers can react to the kind without parsing messages.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a router error.
type Kind string

const (
	// KindParamsInvalid marks malformed or inconsistent request payloads.
	KindParamsInvalid Kind = "ParamsInvalid"

	// KindZeroValueBid marks auctions whose quoted output is zero or negative.
	KindZeroValueBid Kind = "ZeroValueBid"

	// KindAuctionRateExceeded marks auctions throttled per user and lane.
	KindAuctionRateExceeded Kind = "AuctionRateExceeded"

	// KindAuctionExpired marks auctions whose expiry is too close to act on.
	KindAuctionExpired Kind = "AuctionExpired"

	// KindPriceImpactTooHigh marks swaps that would move the pool too far.
	KindPriceImpactTooHigh Kind = "PriceImpactTooHigh"

	// KindProvidersNotAvailable marks chains whose RPC providers are all down.
	KindProvidersNotAvailable Kind = "ProvidersNotAvailable"

	// KindNotEnoughGas marks router native balances below the configured floor.
	KindNotEnoughGas Kind = "NotEnoughGas"

	// KindNotEnoughLiquidity marks router asset balances below the quoted output.
	KindNotEnoughLiquidity Kind = "NotEnoughLiquidity"

	// KindNotEnoughAmount marks quotes at or below the gas fee they must cover.
	KindNotEnoughAmount Kind = "NotEnoughAmount"

	// KindChainNotSupported marks chains absent from the configuration.
	KindChainNotSupported Kind = "ChainNotSupported"

	// KindSubgraphNotSynced marks indexers lagging beyond the sync buffer.
	KindSubgraphNotSynced Kind = "SubgraphNotSynced"

	// KindReceiverTxExists marks prepares already mirrored on the receiving chain.
	KindReceiverTxExists Kind = "ReceiverTxExists"

	// KindSenderTxTooNew marks sender prepares still inside the grace period.
	KindSenderTxTooNew Kind = "SenderTxTooNew"

	// KindRpcError marks failures talking to a chain.
	KindRpcError Kind = "RpcError"

	// KindProviderNotConfigured marks lookups for chains with no service wired.
	KindProviderNotConfigured Kind = "ProviderNotConfigured"

	// KindConfigurationError marks invalid or missing configuration.
	KindConfigurationError Kind = "ConfigurationError"
)

// Error is a classified router error. Context carries structured detail that
// is safe to serialize into messaging replies and logs.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause. Call it from error
// branches only; it does not special-case a nil cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// WithContext attaches one structured detail to the error and returns it for
// chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for the standard errors helpers.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by kind, so sentinel comparisons like
// errors.Is(err, errors.New(KindNotEnoughGas, "")) work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from anywhere in an error chain. Unclassified
// errors report KindRpcError, the catch-all for unexpected failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRpcError
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ContextOf extracts the structured context from an error chain, or nil.
func ContextOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}
