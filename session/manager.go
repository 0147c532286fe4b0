// SPDX-License-Identifier: Apache-2.0

// Package session manages the single active wallet connection of the
// provenance backend.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
)

// Status is the connection state of a wallet session.
type Status uint8

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Session is a snapshot of the wallet connection. Address is set if and only
// if Status is Connected.
type Session struct {
	Kind    chain.Kind
	Address string
	Balance string
	Status  Status
}

// Connected reports whether the snapshot is connected.
func (s Session) Connected() bool { return s.Status == Connected }

const (
	// DefaultBalanceRetries bounds the retries of a transient balance error.
	DefaultBalanceRetries = 3
	// DefaultBalanceRetryInterval is the pause between balance retries.
	DefaultBalanceRetryInterval = 500 * time.Millisecond
	// callbackTimeout bounds work triggered by backend notifications.
	callbackTimeout = 30 * time.Second
)

// Manager owns at most one active backend connection. All mutation of the
// session goes through its methods.
type Manager struct {
	log.Embedding

	backends map[chain.Kind]chain.Backend
	order    []chain.Kind

	retries       uint64
	retryInterval time.Duration

	mu      sync.Mutex
	active  chain.Backend
	session Session
	unsub   chain.Unsubscribe
	// gen is bumped on every transition so that callbacks and connects of a
	// previous connection are ignored.
	gen uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithBalanceRetries sets how often a transient balance error is retried.
func WithBalanceRetries(n uint64, interval time.Duration) Option {
	return func(m *Manager) {
		m.retries, m.retryInterval = n, interval
	}
}

// NewManager returns a disconnected manager over the given backends. Their
// order is the order in which RestoreExistingSession probes them.
func NewManager(backends []chain.Backend, opts ...Option) *Manager {
	m := &Manager{
		Embedding:     log.MakeEmbedding(log.Default()),
		backends:      make(map[chain.Kind]chain.Backend, len(backends)),
		retries:       DefaultBalanceRetries,
		retryInterval: DefaultBalanceRetryInterval,
	}
	for _, b := range backends {
		if b == nil {
			continue
		}
		if _, dup := m.backends[b.Kind()]; !dup {
			m.order = append(m.order, b.Kind())
		}
		m.backends[b.Kind()] = b
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Active returns the connected backend together with the session snapshot
// it belongs to. It fails with chain.ErrNotConnected otherwise.
func (m *Manager) Active() (chain.Backend, Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Status != Connected || m.active == nil {
		return nil, m.session, chain.ErrNotConnected
	}
	return m.active, m.session, nil
}

// Connect connects the backend of the given kind. A connection to another
// backend is torn down first.
func (m *Manager) Connect(ctx context.Context, kind chain.Kind) (Session, error) {
	b, ok := m.backends[kind]
	if !ok || !b.Available() {
		return m.Session(), errors.WithMessagef(chain.ErrProviderUnavailable, "backend %v", kind)
	}

	m.mu.Lock()
	switch {
	case m.session.Status == Connecting:
		m.mu.Unlock()
		return m.Session(), errors.WithMessage(chain.ErrInvalidState, "connect already in progress")
	case m.session.Status == Connected && m.session.Kind == kind:
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	prev, prevUnsub := m.reset()
	m.session = Session{Kind: kind, Status: Connecting}
	gen := m.gen
	m.mu.Unlock()

	if prev != nil {
		m.Log().WithField("backend", prev.Kind()).Info("Switching backend, disconnecting previous")
		if err := m.teardown(ctx, prev, prevUnsub); err != nil {
			m.Log().WithError(err).Warn("Tearing down previous backend")
		}
	}

	acc, err := b.Connect(ctx)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if err == nil {
			if derr := b.Disconnect(ctx); derr != nil {
				m.Log().WithError(derr).Warn("Disconnecting aborted connection")
			}
		}
		return m.Session(), errors.WithMessage(chain.ErrInvalidState, "connect aborted")
	}
	if err != nil {
		m.session = Session{}
		m.gen++
		m.mu.Unlock()
		m.Log().WithField("backend", kind).WithError(err).Info("Connect failed")
		return Session{}, err
	}
	m.adopt(b, acc)
	m.mu.Unlock()

	m.Log().WithField("backend", kind).WithField("account", acc.Address).Info("Connected")
	m.RefreshBalance(ctx)
	return m.Session(), nil
}

// Disconnect drops the active connection. It is idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	prev, unsub := m.reset()
	m.mu.Unlock()
	if prev == nil {
		return nil
	}
	m.Log().WithField("backend", prev.Kind()).Info("Disconnected")
	return m.teardown(ctx, prev, unsub)
}

// RestoreExistingSession adopts the first backend that reports an already
// authorized account. It never prompts the user. The session stays
// disconnected if no backend has an authorized account.
func (m *Manager) RestoreExistingSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.session.Status != Disconnected {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	gen := m.gen
	m.mu.Unlock()

	for _, kind := range m.order {
		b := m.backends[kind]
		if !b.Available() {
			continue
		}
		acc, ok, err := b.Authorized(ctx)
		if err != nil {
			m.Log().WithField("backend", kind).WithError(err).Debug("Checking existing authorization")
			continue
		}
		if !ok {
			continue
		}

		m.mu.Lock()
		if m.gen != gen || m.session.Status != Disconnected {
			s := m.session
			m.mu.Unlock()
			return s, nil
		}
		m.adopt(b, acc)
		m.mu.Unlock()

		m.Log().WithField("backend", kind).WithField("account", acc.Address).Info("Restored existing session")
		m.RefreshBalance(ctx)
		return m.Session(), nil
	}
	return m.Session(), nil
}

// OnAccountChanged applies an account list reported by the active backend.
// An empty list disconnects, otherwise the first address becomes the
// session address.
func (m *Manager) OnAccountChanged(addresses []string) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.accountsChanged(gen, addresses)
}

func (m *Manager) accountsChanged(gen uint64, addresses []string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen || m.session.Status != Connected {
		m.mu.Unlock()
		return
	}
	if len(addresses) == 0 {
		m.mu.Unlock()
		m.Log().Info("Backend reported sign-out")
		if err := m.Disconnect(ctx); err != nil {
			m.Log().WithError(err).Warn("Disconnecting after sign-out")
		}
		return
	}
	if !chain.EqualAddress(m.session.Address, addresses[0]) {
		m.Log().WithField("account", addresses[0]).Info("Account changed")
		m.session.Address = addresses[0]
		m.session.Balance = ""
	}
	m.mu.Unlock()

	m.RefreshBalance(ctx)
}

// RefreshBalance updates the balance of the connected account. Errors are
// logged and absorbed; transient network errors are retried a bounded number
// of times. It does nothing if no session is connected.
func (m *Manager) RefreshBalance(ctx context.Context) {
	m.mu.Lock()
	if m.session.Status != Connected || m.active == nil {
		m.mu.Unlock()
		return
	}
	b, addr, gen := m.active, m.session.Address, m.gen
	m.mu.Unlock()

	var bal string
	op := func() error {
		var err error
		bal, err = b.Balance(ctx, addr)
		if err != nil && !chain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryInterval), m.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		m.Log().WithField("account", addr).WithError(err).Warn("Refreshing balance")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && chain.EqualAddress(m.session.Address, addr) {
		m.session.Balance = bal
	}
}

// adopt makes b the active backend. m.mu must be held.
func (m *Manager) adopt(b chain.Backend, acc chain.Account) {
	m.gen++
	gen := m.gen
	m.active = b
	m.session = Session{Kind: b.Kind(), Address: acc.Address, Status: Connected}
	m.unsub = b.SubscribeAccountChange(func(addrs []string) {
		m.accountsChanged(gen, addrs)
	})
}

// reset clears the session and returns what needs to be torn down. m.mu
// must be held.
func (m *Manager) reset() (chain.Backend, chain.Unsubscribe) {
	prev, unsub := m.active, m.unsub
	m.active, m.unsub = nil, nil
	m.session = Session{}
	m.gen++
	return prev, unsub
}

func (m *Manager) teardown(ctx context.Context, b chain.Backend, unsub chain.Unsubscribe) error {
	if unsub != nil {
		unsub()
	}
	if err := b.Disconnect(ctx); err != nil {
		return errors.WithMessagef(err, "disconnecting %v", b.Kind())
	}
	return nil
}
