package solana

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure of a ledger operation.
type ErrorKind string

const (
	// KindConfiguration covers missing or malformed secrets, addresses and requests.
	// It is always detected before any network call.
	KindConfiguration ErrorKind = "ConfigurationError"

	// KindInsufficientFunds is returned by the caller-side balance check.
	KindInsufficientFunds ErrorKind = "InsufficientFundsError"

	// KindSubmission means the ledger rejected the transaction.
	KindSubmission ErrorKind = "SubmissionError"

	// KindTimeout means confirmation was not observed in time. The outcome is
	// ambiguous: re-query the signature before doing anything else.
	KindTimeout ErrorKind = "TimeoutError"

	// KindNetwork is a transport-level failure reaching the RPC service. When
	// Signature is set the send itself failed and the transaction may have
	// reached the node anyway.
	KindNetwork ErrorKind = "NetworkError"
)

// Sentinels for errors.Is comparisons by kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrSubmission        = &Error{Kind: KindSubmission}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNetwork           = &Error{Kind: KindNetwork}
)

// Error is the classified failure returned by the submission workflow and its
// collaborators.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the step that failed (e.g. "validate", "send", "confirm").
	Op string

	// Signature is set once the transaction has been handed to the network.
	Signature string

	// Reason is a human-readable description, including any remote-provided message.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Signature != "" {
		fmt.Fprintf(&b, " (signature=%s)", e.Signature)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Only the kind is
// compared, so the package sentinels match any error of their category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a classified error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SignatureOf returns the signature carried by a classified error, if any.
func SignatureOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Signature
	}
	return ""
}

func configError(op, reason string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Reason: reason, Err: err}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Unresolved reports whether err leaves the fate of a signed transaction
// unknown: a timeout or transport failure after its signature was fixed.
// Such a transaction may still land; re-query the signature before retrying.
func Unresolved(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Signature == "" {
		return false
	}
	return e.Kind == KindTimeout || e.Kind == KindNetwork
}
