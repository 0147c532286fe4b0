// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

// AssignRole grants role to account on the contract. The call is not
// recorded in the ledger.
func (c *ProvenanceClient) AssignRole(ctx context.Context, account, role string) (chain.TxHandle, error) {
	return c.admin(ctx, chain.AssignRole, chain.AddressArg(account), chain.StringArg(role))
}

// CreateBatch groups products under batchID on the contract.
func (c *ProvenanceClient) CreateBatch(ctx context.Context, batchID string, productIDs ...string) (chain.TxHandle, error) {
	args := []chain.Arg{chain.StringArg(batchID)}
	for _, id := range productIDs {
		args = append(args, chain.StringArg(id))
	}
	return c.admin(ctx, chain.CreateBatch, args...)
}

func (c *ProvenanceClient) admin(ctx context.Context, fn chain.Function, args ...chain.Arg) (chain.TxHandle, error) {
	b, _, err := c.wallet.Active()
	if err != nil {
		return chain.TxHandle{}, err
	}
	call := c.ledger.Contract().NewCall(fn, args...)
	if err := call.Validate(); err != nil {
		return chain.TxHandle{}, errors.WithMessage(chain.ErrInvalidState, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.adminTimeout)
	defer cancel()
	h, err := b.Submit(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			err = chain.ContextError(ctx.Err())
		}
		c.Log().WithField("function", fn).WithError(err).Warn("Contract call failed")
		return chain.TxHandle{}, err
	}
	c.Log().WithField("function", fn).WithField("tx", h.Ref).Info("Contract call accepted")
	return h, nil
}
