// SPDX-License-Identifier: Apache-2.0

package injected

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

// Provider is the request surface of an injected Ethereum account provider.
// *rpc.Client satisfies it.
type Provider interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

var _ Provider = (*rpc.Client)(nil)

// Dial connects to the JSON-RPC endpoint of a wallet provider.
func Dial(ctx context.Context, url string) (*rpc.Client, error) {
	if url == "" {
		return nil, chain.ErrProviderUnavailable
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.WithMessagef(chain.ErrProviderUnavailable, "dialing %s: %v", url, err)
	}
	return c, nil
}

// Provider error codes, see EIP-1193 and EIP-1474.
const (
	codeUserRejected      = 4001
	codeUnauthorized      = 4100
	codeUnsupportedMethod = 4200
	codeDisconnected      = 4900
	codeChainDisconnected = 4901
	codeExecutionReverted = 3
	codeServerError       = -32000
)

// normalize maps provider error shapes into the chain error taxonomy.
func normalize(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chain.ErrUserRejected) || errors.Is(err, chain.ErrNetwork) ||
		errors.Is(err, chain.ErrTimeout) || errors.Is(err, chain.ErrReverted) ||
		errors.Is(err, chain.ErrProviderUnavailable) || errors.Is(err, chain.ErrInvalidState) {
		return errors.WithMessage(err, op)
	}
	if mapped := chain.ContextError(err); mapped != err {
		return errors.WithMessage(mapped, op)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected, codeUnauthorized:
			return errors.WithMessagef(chain.ErrUserRejected, "%s: %s", op, rpcErr.Error())
		case codeUnsupportedMethod:
			return errors.WithMessagef(chain.ErrProviderUnavailable, "%s: %s", op, rpcErr.Error())
		case codeExecutionReverted, codeServerError:
			return errors.WithMessagef(chain.ErrReverted, "%s: %s", op, rpcErr.Error())
		}
	}
	return errors.WithMessagef(chain.ErrNetwork, "%s: %v", op, err)
}
