// SPDX-License-Identifier: Apache-2.0

// Package test provides a scriptable in-memory chain backend for tests.
package test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"perun.network/provenance-backend/chain"
)

// SubmitFunc decides the outcome of a submission on a Backend.
type SubmitFunc func(ctx context.Context, call chain.Call) (chain.TxHandle, error)

// Backend is a chain.Backend whose behaviour is set up by the test.
type Backend struct {
	mu sync.Mutex

	kind        chain.Kind
	available   bool
	authorized  bool
	cancellable bool
	accounts    []string
	balance     string
	connectErr  error
	balanceErr  error
	submit      SubmitFunc
	onConnect   func(ctx context.Context) error
	onBalance   func(address string) (string, error)
	calls       []chain.Call
	txCount     int
	connects    int
	disconnects int

	feed chain.AccountFeed
}

var _ chain.Backend = (*Backend)(nil)

// NewBackend returns an available backend of the given kind that accepts
// every call immediately.
func NewBackend(kind chain.Kind, accounts ...string) *Backend {
	b := &Backend{
		kind:        kind,
		available:   true,
		cancellable: kind == chain.SessionBased,
		accounts:    accounts,
		balance:     "1.0",
	}
	b.submit = b.accept
	return b
}

// RandomAddress returns a random hex address.
func RandomAddress(rng *rand.Rand) string {
	b := make([]byte, 20)
	rng.Read(b)
	return fmt.Sprintf("0x%x", b)
}

func (b *Backend) accept(_ context.Context, _ chain.Call) (chain.TxHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txCount++
	return chain.TxHandle{Ref: fmt.Sprintf("0xtx%04d", b.txCount), Kind: b.kind}, nil
}

// SetAvailable sets whether the provider handle is present.
func (b *Backend) SetAvailable(v bool) { b.mu.Lock(); b.available = v; b.mu.Unlock() }

// SetAuthorized sets whether Authorized reports an existing account.
func (b *Backend) SetAuthorized(v bool) { b.mu.Lock(); b.authorized = v; b.mu.Unlock() }

// SetCancellable overrides cancellation support.
func (b *Backend) SetCancellable(v bool) { b.mu.Lock(); b.cancellable = v; b.mu.Unlock() }

// SetConnectError makes Connect fail with err.
func (b *Backend) SetConnectError(err error) { b.mu.Lock(); b.connectErr = err; b.mu.Unlock() }

// SetBalance sets the balance returned by Balance, or its error.
func (b *Backend) SetBalance(bal string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance, b.balanceErr = bal, err
}

// OnConnect installs a hook that runs at the start of every Connect and may
// block or fail it.
func (b *Backend) OnConnect(f func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = f
}

// OnBalance installs a function that answers Balance queries.
func (b *Backend) OnBalance(f func(address string) (string, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBalance = f
}

// OnSubmit replaces the submission behaviour. A nil f restores the default.
func (b *Backend) OnSubmit(f SubmitFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == nil {
		f = b.accept
	}
	b.submit = f
}

// Block makes submissions wait until release is closed or their context
// ends. started receives every call when it reaches the backend.
func (b *Backend) Block(started chan<- chain.Call, release <-chan struct{}) {
	b.OnSubmit(func(ctx context.Context, call chain.Call) (chain.TxHandle, error) {
		if started != nil {
			started <- call
		}
		select {
		case <-release:
			return b.accept(ctx, call)
		case <-ctx.Done():
			return chain.TxHandle{}, ctx.Err()
		}
	})
}

// ChangeAccounts emulates an account switch or sign-out in the wallet.
func (b *Backend) ChangeAccounts(accounts ...string) {
	b.mu.Lock()
	b.accounts = accounts
	b.authorized = len(accounts) > 0
	b.mu.Unlock()
	b.feed.Send(accounts)
}

// Calls returns all calls that reached the backend.
func (b *Backend) Calls() []chain.Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chain.Call(nil), b.calls...)
}

// Connects returns how often Connect succeeded.
func (b *Backend) Connects() int { b.mu.Lock(); defer b.mu.Unlock(); return b.connects }

// Disconnects returns how often Disconnect was called.
func (b *Backend) Disconnects() int { b.mu.Lock(); defer b.mu.Unlock(); return b.disconnects }

func (b *Backend) Kind() chain.Kind { return b.kind }

func (b *Backend) Available() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.available }

func (b *Backend) Authorized(context.Context) (chain.Account, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return chain.Account{}, false, chain.ErrProviderUnavailable
	}
	if !b.authorized || len(b.accounts) == 0 {
		return chain.Account{}, false, nil
	}
	return chain.Account{Address: b.accounts[0], Kind: b.kind}, true, nil
}

func (b *Backend) Connect(ctx context.Context) (chain.Account, error) {
	b.mu.Lock()
	hook := b.onConnect
	b.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return chain.Account{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return chain.Account{}, chain.ErrProviderUnavailable
	}
	if err := ctx.Err(); err != nil {
		return chain.Account{}, chain.ContextError(err)
	}
	if b.connectErr != nil {
		return chain.Account{}, b.connectErr
	}
	if len(b.accounts) == 0 {
		return chain.Account{}, chain.ErrUserRejected
	}
	b.authorized = true
	b.connects++
	return chain.Account{Address: b.accounts[0], Kind: b.kind}, nil
}

func (b *Backend) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	if b.kind == chain.SessionBased {
		b.authorized = false
	}
	return nil
}

func (b *Backend) Accounts(context.Context) ([]chain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	accs := make([]chain.Account, len(b.accounts))
	for i, a := range b.accounts {
		accs[i] = chain.Account{Address: a, Kind: b.kind}
	}
	return accs, nil
}

func (b *Backend) Balance(_ context.Context, address string) (string, error) {
	b.mu.Lock()
	f := b.onBalance
	bal, err := b.balance, b.balanceErr
	b.mu.Unlock()
	if f != nil {
		return f(address)
	}
	return bal, err
}

func (b *Backend) Submit(ctx context.Context, call chain.Call) (chain.TxHandle, error) {
	if err := call.Validate(); err != nil {
		return chain.TxHandle{}, err
	}
	b.mu.Lock()
	b.calls = append(b.calls, call)
	submit := b.submit
	b.mu.Unlock()
	return submit(ctx, call)
}

func (b *Backend) SubscribeAccountChange(fn chain.AccountChangeFunc) chain.Unsubscribe {
	return b.feed.Subscribe(fn)
}

func (b *Backend) Cancellable() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.cancellable }
