package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
)

// Kind tells callers whether a failed wallet call is worth retrying.
type Kind int

const (
	// KindTransient covers network failures and timeouts. The reconciler
	// retries on its next pass; a withdrawal asks the user to try again.
	KindTransient Kind = iota + 1
	// KindProtocol covers calls the node answered with an error or with a
	// response that could not be understood.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// Error is returned by every Gateway method.
type Error struct {
	Kind   Kind
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wallet %s (%s): %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable wallet failure.
func IsTransient(err error) bool {
	var walletErr *Error
	return errors.As(err, &walletErr) && walletErr.Kind == KindTransient
}

// IsProtocol reports whether the node rejected the call or answered garbage.
func IsProtocol(err error) bool {
	var walletErr *Error
	return errors.As(err, &walletErr) && walletErr.Kind == KindProtocol
}

// RPCCode returns the node's error code when err carries one.
func RPCCode(err error) (btcjson.RPCErrorCode, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}

func transient(method string, err error) *Error {
	return &Error{Kind: KindTransient, Method: method, Err: err}
}

func protocol(method string, err error) *Error {
	return &Error{Kind: KindProtocol, Method: method, Err: err}
}
