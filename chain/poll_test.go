// SPDX-License-Identifier: Apache-2.0

package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"perun.network/provenance-backend/chain"
)

func TestPoller_Wait(t *testing.T) {
	p := chain.NewPoller(time.Millisecond)
	calls := 0
	err := p.Wait(context.Background(), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPoller_WaitError(t *testing.T) {
	p := chain.NewPoller(time.Millisecond)
	boom := errors.New("boom")
	err := p.Wait(context.Background(), func(context.Context) (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
}

func TestPoller_WaitTimeout(t *testing.T) {
	p := chain.NewPoller(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx, func(context.Context) (bool, error) { return false, nil })
	require.ErrorIs(t, err, chain.ErrTimeout)
	require.Equal(t, chain.DefaultPollInterval, chain.NewPoller(0).Interval())
}
