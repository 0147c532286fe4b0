// SPDX-License-Identifier: Apache-2.0

// Package icp implements the chain backend for session-based wallets on
// the Internet Computer. Authorization is an external flow whose result is
// kept in a local signed session.
package icp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/utils"
	"perun.network/provenance-backend/wallet"
)

// Canister executes contract calls and balance queries.
type Canister interface {
	Invoke(ctx context.Context, call chain.Call) (txID string, err error)
	Balance(ctx context.Context, address string) (e8s uint64, err error)
}

// Backend is the session-based chain backend.
type Backend struct {
	log.Embedding

	app      AppDetails
	store    *wallet.SessionStore
	auth     Authenticator
	confirm  Confirmer
	canister Canister
	now      func() time.Time

	feed chain.AccountFeed
}

var _ chain.Backend = (*Backend)(nil)

// New returns a session-based backend. Missing collaborators make the backend
// report itself unavailable. A nil confirmer approves every call.
func New(app AppDetails, store *wallet.SessionStore, auth Authenticator, confirm Confirmer, canister Canister) *Backend {
	if confirm == nil {
		confirm = AutoConfirm{}
	}
	return &Backend{
		Embedding: log.MakeEmbedding(log.Default().WithField("backend", chain.SessionBased)),
		app:       app,
		store:     store,
		auth:      auth,
		confirm:   confirm,
		canister:  canister,
		now:       time.Now,
	}
}

func (b *Backend) Kind() chain.Kind { return chain.SessionBased }

func (b *Backend) Available() bool {
	return b.store != nil && b.auth != nil && b.canister != nil
}

func (b *Backend) Cancellable() bool { return true }

// Authorized reads the local session only.
func (b *Backend) Authorized(context.Context) (chain.Account, bool, error) {
	if !b.Available() {
		return chain.Account{}, false, chain.ErrProviderUnavailable
	}
	if !b.store.IsUserSignedIn() {
		return chain.Account{}, false, nil
	}
	data, err := b.store.LoadUserData()
	if err != nil {
		return chain.Account{}, false, nil
	}
	b.feed.Prime([]string{data.Address})
	return chain.Account{Address: data.Address, Kind: chain.SessionBased}, true, nil
}

func (b *Backend) Connect(ctx context.Context) (chain.Account, error) {
	if !b.Available() {
		return chain.Account{}, chain.ErrProviderUnavailable
	}
	profile, err := b.auth.Authenticate(ctx, b.app)
	if err != nil {
		return chain.Account{}, normalize(err, "authenticate")
	}
	if profile.Address == "" {
		return chain.Account{}, errors.WithMessage(chain.ErrUserRejected, "authorization returned no account")
	}
	if err := b.store.SignIn(wallet.SessionData{
		Address:  profile.Address,
		AppName:  b.app.Name,
		SignedIn: b.now(),
	}); err != nil {
		return chain.Account{}, errors.WithMessage(err, "storing session")
	}
	b.feed.Prime([]string{profile.Address})
	b.Log().WithField("account", profile.Address).Debug("Signed in")
	return chain.Account{Address: profile.Address, Kind: chain.SessionBased}, nil
}

// Disconnect signs the user out of the local session.
func (b *Backend) Disconnect(context.Context) error {
	if b.store == nil {
		return nil
	}
	b.feed.Reset()
	return b.store.SignUserOut()
}

// SignUserOut ends the session from the wallet side and notifies listeners
// with an empty account list.
func (b *Backend) SignUserOut() error {
	if b.store == nil {
		return chain.ErrProviderUnavailable
	}
	if err := b.store.SignUserOut(); err != nil {
		return err
	}
	b.feed.Update(nil)
	return nil
}

func (b *Backend) Accounts(context.Context) ([]chain.Account, error) {
	if !b.Available() {
		return nil, chain.ErrProviderUnavailable
	}
	data, err := b.store.LoadUserData()
	if errors.Is(err, wallet.ErrNoSession) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return []chain.Account{{Address: data.Address, Kind: chain.SessionBased}}, nil
}

func (b *Backend) Balance(ctx context.Context, address string) (string, error) {
	if !b.Available() {
		return "", chain.ErrProviderUnavailable
	}
	e8s, err := b.canister.Balance(ctx, address)
	if err != nil {
		return "", normalize(err, "balance")
	}
	b.Log().Tracef("Balance of %s: %s e8s", address, utils.FormatWithUnderscores(e8s))
	return utils.FormatE8s(e8s), nil
}

// Submit asks the user to confirm the call and executes it. Cancelling ctx
// while the confirmation is open cancels the submission.
func (b *Backend) Submit(ctx context.Context, call chain.Call) (chain.TxHandle, error) {
	if !b.Available() {
		return chain.TxHandle{}, chain.ErrProviderUnavailable
	}
	if err := call.Validate(); err != nil {
		return chain.TxHandle{}, err
	}
	if !b.store.IsUserSignedIn() {
		return chain.TxHandle{}, chain.ErrNotConnected
	}

	ok, err := b.confirm.Confirm(ctx, call)
	if err != nil {
		return chain.TxHandle{}, normalize(err, "confirm")
	}
	if !ok {
		return chain.TxHandle{}, errors.WithMessage(chain.ErrUserRejected, "transaction cancelled")
	}

	txID, err := b.canister.Invoke(ctx, call)
	if err != nil {
		return chain.TxHandle{}, normalize(err, string(call.Function))
	}
	b.Log().WithField("tx", txID).Infof("Transaction %s finished", call.Function)
	return chain.TxHandle{Ref: txID, Kind: chain.SessionBased}, nil
}

func (b *Backend) SubscribeAccountChange(fn chain.AccountChangeFunc) chain.Unsubscribe {
	return b.feed.Subscribe(fn)
}

// normalize maps agent and prompt errors into the chain error taxonomy.
func normalize(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chain.ErrUserRejected), errors.Is(err, chain.ErrNetwork),
		errors.Is(err, chain.ErrTimeout), errors.Is(err, chain.ErrReverted),
		errors.Is(err, chain.ErrProviderUnavailable), errors.Is(err, chain.ErrInvalidState):
		return errors.WithMessage(err, op)
	}
	if mapped := chain.ContextError(err); mapped != err {
		return errors.WithMessage(mapped, op)
	}
	return errors.WithMessagef(chain.ErrNetwork, "%s: %v", op, err)
}
