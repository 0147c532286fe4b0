// SPDX-License-Identifier: Apache-2.0

// Package setup builds a ProvenanceClient and its backends from the
// configuration.
package setup

import (
	"context"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/chain/icp"
	"perun.network/provenance-backend/chain/injected"
	"perun.network/provenance-backend/client"
	"perun.network/provenance-backend/config"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/ledger/store"
	"perun.network/provenance-backend/session"
	"perun.network/provenance-backend/utils"
	"perun.network/provenance-backend/wallet"
)

// Setup is a wired client together with the resources it holds.
type Setup struct {
	Client  *client.ProvenanceClient
	Wallet  *session.Manager
	Ledger  *ledger.Ledger
	Metrics *ledger.Metrics

	closers []func() error
}

// NewClient wires the backends, the wallet session manager, the ledger and
// its snapshot store as configured. Backends whose configuration is
// missing or broken are created unavailable. Metrics are registered with
// reg unless it is nil.
func NewClient(ctx context.Context, cfg config.Config, prompter icp.Prompter, reg prometheus.Registerer) (*Setup, error) {
	s := new(Setup)
	eth, err := s.ethereumBackend(ctx, cfg.Ethereum)
	if err != nil {
		return nil, s.abort(err)
	}
	ic := s.sessionBackend(cfg.Session, prompter)

	s.Wallet = session.NewManager([]chain.Backend{eth, ic},
		session.WithBalanceRetries(cfg.Wallet.BalanceRetries, cfg.Wallet.BalanceInterval))

	st, closer, err := NewStore(ctx, cfg.Ledger)
	if err != nil {
		return nil, s.abort(err)
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	contract := chain.Contract{Address: cfg.Contract.Address, Name: cfg.Contract.Name}
	s.Ledger, err = ledger.New(ctx, contract, st)
	if err != nil {
		return nil, s.abort(err)
	}

	registry := ledger.NewRegistry(s.Ledger)
	opts := []ledger.SubmitterOption{ledger.WithTimeout(cfg.Ledger.SubmitTimeout)}
	if reg != nil {
		s.Metrics = ledger.NewMetrics(reg)
		opts = append(opts, ledger.WithMetrics(s.Metrics))
	}
	submitter := ledger.NewSubmitter(s.Wallet, s.Ledger, registry, opts...)
	s.Client = client.New(s.Wallet, s.Ledger, registry, submitter,
		client.WithTrackingURL(cfg.Tracking.BaseURL),
		client.WithAdminTimeout(cfg.Ledger.SubmitTimeout))
	return s, nil
}

func (s *Setup) ethereumBackend(ctx context.Context, cfg config.EthereumConfig) (*injected.Backend, error) {
	opts := []injected.Option{injected.WithAccountPollInterval(cfg.PollInterval)}
	if cfg.RPCURL == "" {
		return injected.New(nil, opts...), nil
	}
	rpcClient, err := injected.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.WithMessagef(err, "dialing %s", cfg.RPCURL)
	}
	s.closers = append(s.closers, func() error { rpcClient.Close(); return nil })
	return injected.New(rpcClient, opts...), nil
}

// sessionBackend creates the session-based backend. Without a canister or
// a readable identity the backend is unavailable.
func (s *Setup) sessionBackend(cfg config.SessionConfig, prompter icp.Prompter) *icp.Backend {
	app := icp.AppDetails{Name: cfg.AppName, Icon: cfg.AppIcon, RedirectTo: cfg.RedirectTo}
	if cfg.CanisterID == "" {
		return icp.New(app, nil, nil, nil, nil)
	}
	conn, err := icp.NewConnector(icp.ConnectorConfig{
		Host:         cfg.Host,
		Port:         cfg.Port,
		CanisterID:   cfg.CanisterID,
		LedgerID:     cfg.LedgerID,
		IdentityPath: cfg.IdentityPath,
	})
	if err != nil {
		log.WithError(err).Warn("Session backend unavailable")
		return icp.New(app, nil, nil, nil, nil)
	}
	store, err := wallet.CreateOrLoadSessionStore(utils.ExpandHome(cfg.StorePath), rand.Reader)
	if err != nil {
		log.WithError(err).Warn("Session backend unavailable, can not open session store")
		return icp.New(app, nil, nil, nil, nil)
	}
	s.closers = append(s.closers, func() error { store.Close(); return nil })

	return icp.New(app, store,
		icp.IdentityAuthenticator{Identity: conn.Identity, Prompter: prompter},
		icp.PromptConfirmer{Prompter: prompter},
		conn)
}

// NewStore opens the configured snapshot store. The returned closer is nil
// for stores without resources.
func NewStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil, nil
	case config.StoreFile:
		return store.NewFile(utils.ExpandHome(cfg.Path)), nil, nil
	case config.StoreBadger:
		b, err := store.OpenBadger(utils.ExpandHome(cfg.Path))
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.StoreRedis:
		r, err := store.DialRedis(ctx, store.RedisConfig{Addr: cfg.RedisAddr, Key: cfg.RedisKey})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, errors.Errorf("unknown ledger store %q", cfg.Store)
}

// Close releases all resources in reverse order of acquisition.
func (s *Setup) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.closers = nil
	return err
}

func (s *Setup) abort(err error) error {
	if cerr := s.Close(); cerr != nil {
		log.WithError(cerr).Warn("Releasing resources after failed setup")
	}
	return err
}
