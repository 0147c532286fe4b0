// SPDX-License-Identifier: Apache-2.0

package icp

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/aviate-labs/agent-go"
	"github.com/aviate-labs/agent-go/ic/icpledger"
	"github.com/aviate-labs/agent-go/identity"
	"github.com/aviate-labs/agent-go/principal"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/utils"
)

// ConnectorConfig locates the replica and the canisters a Connector talks to.
type ConnectorConfig struct {
	Host         string
	Port         int
	CanisterID   string
	LedgerID     string
	IdentityPath string
}

// Connector is the Canister implementation on top of an Internet Computer
// replica.
type Connector struct {
	log.Embedding
	Sender      principal.Principal
	Identity    identity.Identity
	SupplyChain *Agent
	Ledger      *icpledger.Agent
}

var _ Canister = (*Connector)(nil)

// NewIdentity loads a secp256k1 identity from a PEM file.
func NewIdentity(accountPath string) (identity.Identity, error) {
	data, err := os.ReadFile(accountPath)
	if err != nil {
		return nil, err
	}
	var agentID identity.Identity
	agentID, err = identity.NewSecp256k1IdentityFromPEM(data)
	if err != nil {
		return nil, err
	}
	return agentID, nil
}

// NewConnector creates agents for the supply chain and the ledger canister.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	agentID, err := NewIdentity(utils.ExpandHome(cfg.IdentityPath))
	if err != nil {
		return nil, errors.WithMessagef(chain.ErrProviderUnavailable, "loading identity: %v", err)
	}
	ic0, err := url.Parse(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, err
	}
	agentCfg := agent.Config{
		Identity: agentID,
		ClientConfig: &agent.ClientConfig{
			Host: ic0,
		},
		FetchRootKey: true,
	}

	canID, err := utils.DecodePrincipal(cfg.CanisterID)
	if err != nil {
		return nil, err
	}
	ledgerID, err := utils.DecodePrincipal(cfg.LedgerID)
	if err != nil {
		return nil, err
	}

	sc, err := NewAgent(canID, agentCfg)
	if err != nil {
		return nil, errors.WithMessage(chain.ErrNetwork, err.Error())
	}
	ledger, err := icpledger.NewAgent(ledgerID, agentCfg)
	if err != nil {
		return nil, errors.WithMessage(chain.ErrNetwork, err.Error())
	}

	return &Connector{
		Embedding:   log.MakeEmbedding(log.Default()),
		Sender:      agentID.Sender(),
		Identity:    agentID,
		SupplyChain: sc,
		Ledger:      ledger,
	}, nil
}

// await runs f and returns early if ctx is done. The agent does not accept a
// context, so a late result is dropped.
func await[T any](ctx context.Context, f func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Invoke executes call on the supply chain canister and returns the
// transaction id from its receipt.
func (c *Connector) Invoke(ctx context.Context, call chain.Call) (string, error) {
	if err := call.Validate(); err != nil {
		return "", err
	}
	rcpt, err := await(ctx, func() (*Receipt, error) { return c.dispatch(call) })
	if err != nil {
		return "", err
	}
	if rcpt.Error != nil {
		return "", errors.WithMessagef(chain.ErrReverted, "%s: %s", call.Function, *rcpt.Error)
	}
	c.Log().WithField("tx", rcpt.TxId).Debugf("Executed %s", call.Function)
	return rcpt.TxId, nil
}

func (c *Connector) dispatch(call chain.Call) (*Receipt, error) {
	args := call.Args
	switch call.Function {
	case chain.CreateProduct:
		return c.SupplyChain.CreateProduct(args[0].Str, args[1].Str, args[2].Uint, args[3].Str)
	case chain.AddCheckpoint:
		return c.SupplyChain.AddCheckpoint(args[0].Str, args[1].Str, args[2].Str)
	case chain.VerifyCheckpoint:
		return c.SupplyChain.VerifyCheckpoint(args[0].Str, args[1].Uint)
	case chain.CreateBatch:
		ids := make([]ProductId, 0, len(args)-1)
		for _, a := range args[1:] {
			ids = append(ids, a.Str)
		}
		return c.SupplyChain.CreateBatch(args[0].Str, ids)
	case chain.TransferBatch:
		owner, err := principal.Decode(args[1].Str)
		if err != nil {
			return nil, errors.WithMessagef(chain.ErrInvalidState, "new owner: %v", err)
		}
		return c.SupplyChain.TransferBatch(args[0].Str, owner)
	case chain.AssignRole:
		account, err := principal.Decode(args[0].Str)
		if err != nil {
			return nil, errors.WithMessagef(chain.ErrInvalidState, "account: %v", err)
		}
		return c.SupplyChain.AssignRole(account, args[1].Str)
	}
	return nil, errors.Errorf("unsupported function %q", call.Function)
}

// Balance returns the ledger balance of the default subaccount of address in
// e8s.
func (c *Connector) Balance(ctx context.Context, address string) (uint64, error) {
	p, err := principal.Decode(address)
	if err != nil {
		return 0, errors.WithMessagef(chain.ErrInvalidState, "invalid principal %q: %v", address, err)
	}
	accID := p.AccountIdentifier(principal.DefaultSubAccount)
	return await(ctx, func() (uint64, error) {
		bal, err := c.Ledger.AccountBalance(icpledger.AccountBalanceArgs{Account: accID.Bytes()})
		if err != nil {
			return 0, err
		}
		return bal.E8s, nil
	})
}
