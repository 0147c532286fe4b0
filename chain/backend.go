// Copyright 2023 - See NOTICE file for copyright holders.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chain defines the capability every wallet backend offers to the
// session manager and the submission pipeline. The concrete variants live in
// the injected and session subpackages.
package chain

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies which wallet integration a backend implements.
type Kind uint8

const (
	// None is the kind of a session without an active backend.
	None Kind = iota
	// EthereumLike backends expose an injected account provider that is
	// queried over JSON-RPC.
	EthereumLike
	// SessionBased backends authorize through an external flow and keep a
	// local session.
	SessionBased
)

var kindNames = map[Kind]string{
	None:         "none",
	EthereumLike: "ethereum",
	SessionBased: "session",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind parses the textual name of a backend kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	switch s {
	case "injected", "evm", "metamask":
		return EthereumLike, nil
	case "stacks", "icp":
		return SessionBased, nil
	}
	return None, errors.Errorf("unknown backend kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(data []byte) error {
	parsed, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type (
	// Account is an address read from a backend. It is never mutated, only
	// replaced.
	Account struct {
		Address string
		Kind    Kind
	}

	// TxHandle references a call accepted by a backend.
	TxHandle struct {
		Ref  string
		Kind Kind
	}

	// Unsubscribe removes a previously registered listener. Calling it more
	// than once is allowed.
	Unsubscribe func()

	// AccountChangeFunc receives the current account list of a backend. An
	// empty list means the user signed out.
	AccountChangeFunc func(addresses []string)

	// Backend is a wallet capability. Implementations must return errors
	// from the taxonomy in errors.go.
	Backend interface {
		Kind() Kind
		// Available reports whether the runtime handle of the backend is
		// present at all.
		Available() bool
		// Authorized returns the already authorized account without
		// prompting the user. It returns false if there is none.
		Authorized(ctx context.Context) (Account, bool, error)
		// Connect runs the authorization flow, which may prompt the user.
		Connect(ctx context.Context) (Account, error)
		// Disconnect drops the authorization and stops all listeners.
		Disconnect(ctx context.Context) error
		Accounts(ctx context.Context) ([]Account, error)
		// Balance returns the formatted balance of the given address.
		Balance(ctx context.Context, address string) (string, error)
		// Submit executes the call and returns once it is accepted by the
		// chain or it failed. Cancelling ctx aborts a pending confirmation
		// if the backend is Cancellable.
		Submit(ctx context.Context, call Call) (TxHandle, error)
		SubscribeAccountChange(fn AccountChangeFunc) Unsubscribe
		Cancellable() bool
	}
)

// EqualAddress compares two backend addresses. Ethereum addresses are
// compared case insensitively because of checksum casing.
func EqualAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
