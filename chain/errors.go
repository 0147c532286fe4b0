// SPDX-License-Identifier: Apache-2.0
package chain

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrProviderUnavailable the runtime handle of a backend is missing.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrUserRejected the user dismissed an authorization or confirmation prompt.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrNetwork a backend could not reach its network.
	ErrNetwork = errors.New("network error")
	// ErrTimeout a backend did not answer within the allowed interval.
	ErrTimeout = errors.New("backend timed out")
	// ErrNotCancellable the submission can not be cancelled anymore or the
	// backend does not support cancellation.
	ErrNotCancellable = errors.New("submission not cancellable")
	// ErrInvalidState an operation was issued in a state that does not allow it.
	ErrInvalidState = errors.New("invalid state")
	// ErrReverted the chain accepted the call but its execution failed.
	ErrReverted = errors.New("transaction reverted")

	// ErrNotConnected no wallet session is connected.
	ErrNotConnected = errors.WithMessage(ErrInvalidState, "wallet not connected")
)

// IsTransient reports whether err is worth retrying without user interaction.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// ContextError maps a context error to the shared taxonomy. Any other error
// is returned unchanged.
func ContextError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.WithMessage(ErrTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return errors.WithMessage(ErrUserRejected, "request cancelled")
	}
	return err
}
