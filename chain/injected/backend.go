// SPDX-License-Identifier: Apache-2.0

// Package injected implements the chain backend for injected Ethereum
// account providers such as browser wallets or a node's JSON-RPC endpoint.
package injected

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/utils"
)

const (
	// DefaultAccountPollInterval is how often the account list is polled
	// while connected.
	DefaultAccountPollInterval = 2 * time.Second
	// DefaultReceiptPollInterval is how often a receipt is queried while a
	// transaction is pending.
	DefaultReceiptPollInterval = time.Second
)

// Backend is the injected-account chain backend.
type Backend struct {
	log.Embedding

	provider        Provider
	accountInterval time.Duration
	receipts        *chain.Poller

	feed    chain.AccountFeed
	mu      sync.Mutex
	subs    int
	watcher *pkgsync.Closer
}

var _ chain.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithAccountPollInterval sets the account polling interval.
func WithAccountPollInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.accountInterval = d
		}
	}
}

// WithReceiptPollInterval sets the receipt polling interval.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(b *Backend) { b.receipts = chain.NewPoller(d) }
}

// New returns a backend on top of p. A nil p yields a backend that reports
// itself unavailable.
func New(p Provider, opts ...Option) *Backend {
	b := &Backend{
		Embedding:       log.MakeEmbedding(log.Default().WithField("backend", chain.EthereumLike)),
		provider:        p,
		accountInterval: DefaultAccountPollInterval,
		receipts:        chain.NewPoller(DefaultReceiptPollInterval),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Kind() chain.Kind { return chain.EthereumLike }

func (b *Backend) Available() bool { return b.provider != nil }

func (b *Backend) Cancellable() bool { return false }

// addresses requests the account list. With prompt set, the provider may ask
// the user for authorization.
func (b *Backend) addresses(ctx context.Context, prompt bool) ([]string, error) {
	if !b.Available() {
		return nil, chain.ErrProviderUnavailable
	}
	method := "eth_accounts"
	if prompt {
		method = "eth_requestAccounts"
	}
	var raw []string
	if err := b.provider.CallContext(ctx, &raw, method); err != nil {
		return nil, normalize(err, method)
	}
	addrs := make([]string, 0, len(raw))
	for _, a := range raw {
		if !common.IsHexAddress(a) {
			b.Log().Warnf("Ignoring malformed account %q", a)
			continue
		}
		addrs = append(addrs, common.HexToAddress(a).Hex())
	}
	return addrs, nil
}

func (b *Backend) Authorized(ctx context.Context) (chain.Account, bool, error) {
	addrs, err := b.addresses(ctx, false)
	if err != nil || len(addrs) == 0 {
		return chain.Account{}, false, err
	}
	b.feed.Prime(addrs)
	return chain.Account{Address: addrs[0], Kind: chain.EthereumLike}, true, nil
}

func (b *Backend) Connect(ctx context.Context) (chain.Account, error) {
	addrs, err := b.addresses(ctx, true)
	if err != nil {
		return chain.Account{}, err
	}
	if len(addrs) == 0 {
		return chain.Account{}, errors.WithMessage(chain.ErrUserRejected, "no account authorized")
	}
	b.feed.Prime(addrs)
	b.Log().WithField("account", addrs[0]).Debug("Connected")
	return chain.Account{Address: addrs[0], Kind: chain.EthereumLike}, nil
}

// Disconnect stops watching the provider. Injected providers keep their
// authorization, so it is restored by the next Authorized call.
func (b *Backend) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopWatching()
	b.feed.Reset()
	return nil
}

func (b *Backend) Accounts(ctx context.Context) ([]chain.Account, error) {
	addrs, err := b.addresses(ctx, false)
	if err != nil {
		return nil, err
	}
	accs := make([]chain.Account, len(addrs))
	for i, a := range addrs {
		accs[i] = chain.Account{Address: a, Kind: chain.EthereumLike}
	}
	return accs, nil
}

func (b *Backend) Balance(ctx context.Context, address string) (string, error) {
	if !b.Available() {
		return "", chain.ErrProviderUnavailable
	}
	if !common.IsHexAddress(address) {
		return "", errors.WithMessagef(chain.ErrInvalidState, "invalid address %q", address)
	}
	var bal hexutil.Big
	if err := b.provider.CallContext(ctx, &bal, "eth_getBalance", common.HexToAddress(address), "latest"); err != nil {
		return "", normalize(err, "eth_getBalance")
	}
	return utils.FormatWei(bal.ToInt()), nil
}

type sendTxArgs struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// receipt holds the fields of a transaction receipt the backend needs.
type receipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
}

// Submit sends the call from the first authorized account and waits for its
// receipt.
func (b *Backend) Submit(ctx context.Context, call chain.Call) (chain.TxHandle, error) {
	if !b.Available() {
		return chain.TxHandle{}, chain.ErrProviderUnavailable
	}
	if !common.IsHexAddress(call.ContractAddress) {
		return chain.TxHandle{}, errors.Errorf("invalid contract address %q", call.ContractAddress)
	}
	data, err := pack(call)
	if err != nil {
		return chain.TxHandle{}, errors.WithMessagef(err, "packing %s", call.Function)
	}
	addrs, err := b.addresses(ctx, false)
	if err != nil {
		return chain.TxHandle{}, err
	}
	if len(addrs) == 0 {
		return chain.TxHandle{}, chain.ErrNotConnected
	}

	var hash common.Hash
	tx := sendTxArgs{
		From: common.HexToAddress(addrs[0]),
		To:   common.HexToAddress(call.ContractAddress),
		Data: data,
	}
	if err := b.provider.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return chain.TxHandle{}, normalize(err, "eth_sendTransaction")
	}
	txLog := b.Log().WithField("tx", hash.Hex()).WithField("function", call.Function)
	txLog.Debug("Transaction sent, waiting for receipt")

	var rcpt *receipt
	err = b.receipts.Wait(ctx, func(ctx context.Context) (bool, error) {
		if err := b.provider.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
			return false, normalize(err, "eth_getTransactionReceipt")
		}
		return rcpt != nil, nil
	})
	if err != nil {
		return chain.TxHandle{}, err
	}
	if uint64(rcpt.Status) != types.ReceiptStatusSuccessful {
		return chain.TxHandle{}, errors.WithMessagef(chain.ErrReverted, "transaction %s", hash.Hex())
	}
	txLog.Info("Transaction confirmed")
	return chain.TxHandle{Ref: hash.Hex(), Kind: chain.EthereumLike}, nil
}

// SubscribeAccountChange registers fn. The account list is polled while at
// least one subscription is active.
func (b *Backend) SubscribeAccountChange(fn chain.AccountChangeFunc) chain.Unsubscribe {
	unsub := b.feed.Subscribe(fn)
	b.mu.Lock()
	b.subs++
	b.startWatching()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.subs--; b.subs == 0 {
				b.stopWatching()
			}
		})
	}
}

// startWatching starts polling the account list if it is not polled yet.
// b.mu must be held.
func (b *Backend) startWatching() {
	if b.watcher != nil && !b.watcher.IsClosed() {
		return
	}
	closer := new(pkgsync.Closer)
	b.watcher = closer
	go b.watch(closer)
}

// stopWatching stops the account poller. b.mu must be held.
func (b *Backend) stopWatching() {
	if b.watcher == nil {
		return
	}
	if err := b.watcher.Close(); err != nil {
		b.Log().WithError(err).Debug("Closing account watcher")
	}
	b.watcher = nil
}

func (b *Backend) watch(closer *pkgsync.Closer) {
	b.Log().Debug("Account watcher started")
	defer b.Log().Debug("Account watcher stopped")
	for {
		select {
		case <-closer.Closed():
			return
		case <-time.After(b.accountInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.accountInterval)
		addrs, err := b.addresses(ctx, false)
		cancel()
		if err != nil {
			b.Log().WithError(err).Debug("Polling accounts")
			continue
		}
		if closer.IsClosed() {
			return
		}
		if b.feed.Update(addrs) {
			b.Log().Debugf("Accounts changed: %v", addrs)
		}
	}
}
