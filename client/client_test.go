// SPDX-License-Identifier: Apache-2.0

package client_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ptest "polycry.pt/poly-go/test"

	"perun.network/provenance-backend/chain"
	chtest "perun.network/provenance-backend/chain/test"
	"perun.network/provenance-backend/client"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/qr"
	"perun.network/provenance-backend/session"
)

var now = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

type setup struct {
	eth, ic *chtest.Backend
	ethAcc  string
	icAcc   string
	client  *client.ProvenanceClient
}

func newSetup(t *testing.T, opts ...client.Option) *setup {
	t.Helper()
	rng := ptest.Prng(t)
	s := &setup{ethAcc: chtest.RandomAddress(rng), icAcc: chtest.RandomAddress(rng)}
	s.eth = chtest.NewBackend(chain.EthereumLike, s.ethAcc)
	s.ic = chtest.NewBackend(chain.SessionBased, s.icAcc)

	w := session.NewManager([]chain.Backend{s.eth, s.ic}, session.WithBalanceRetries(1, time.Millisecond))
	l, err := ledger.New(context.Background(), chain.Contract{Address: "0xc", Name: "supply-chain"}, nil)
	require.NoError(t, err)
	r := ledger.NewRegistry(l)
	sub := ledger.NewSubmitter(w, l, r, ledger.WithTimeout(time.Second))
	opts = append([]client.Option{client.WithTrackingURL("https://trace.example"), client.WithClock(func() time.Time { return now })}, opts...)
	s.client = client.New(w, l, r, sub, opts...)
	return s
}

func TestClient_Lifecycle(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	sess, err := s.client.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Disconnected, sess.Status)

	_, err = s.client.CreateProduct(ctx, client.ProductInput{ID: "PROD-1", Name: "Apples", Origin: "Farm A"})
	require.ErrorIs(t, err, chain.ErrNotConnected)

	sess, err = s.client.Connect(ctx, chain.SessionBased)
	require.NoError(t, err)
	assert.Equal(t, s.icAcc, sess.Address)
	assert.Equal(t, "1.0", s.client.Session().Balance)

	cp, err := s.client.CreateProduct(ctx, client.ProductInput{ID: "PROD-1", Name: "Apples", Origin: "Farm A"})
	require.NoError(t, err)
	assert.Equal(t, ledger.Confirmed, cp.Status)
	assert.Equal(t, chain.SessionBased, cp.Backend)

	_, err = s.client.RecordCheckpoint(ctx, "PROD-1", ledger.Transport, ledger.Payload{Location: "Truck 9"})
	require.NoError(t, err)
	_, err = s.client.VerifyCheckpoint(ctx, "PROD-1", 1, "cold chain ok")
	require.NoError(t, err)

	buyer := "0x3333333333333333333333333333333333333333"
	_, err = s.client.TransferOwnership(ctx, "PROD-1", buyer)
	require.NoError(t, err)
	_, err = s.client.TransferOwnership(ctx, "PROD-1", s.icAcc)
	require.ErrorIs(t, err, ledger.ErrNotOwner)

	tr, err := s.client.Track("PROD-1")
	require.NoError(t, err)
	assert.Len(t, tr.Checkpoints, 4)
	assert.Equal(t, "Truck 9", tr.Product.CurrentLocation)
	assert.Equal(t, buyer, tr.Product.Owner)
	assert.True(t, tr.Product.Verified)
	assert.Empty(t, tr.Failed)
	assert.Len(t, s.client.Products(), 1)

	require.NoError(t, s.client.Disconnect(ctx))
	assert.Equal(t, session.Disconnected, s.client.Session().Status)
	_, err = s.client.TransferOwnership(ctx, "PROD-1", s.icAcc)
	require.ErrorIs(t, err, chain.ErrNotConnected)
}

func TestClient_Restore(t *testing.T) {
	s := newSetup(t)
	s.ic.SetAuthorized(true)

	sess, err := s.client.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chain.SessionBased, sess.Kind)
	assert.Equal(t, s.icAcc, sess.Address)
	assert.Zero(t, s.ic.Connects(), "restoring never prompts")
}

func TestClient_TrackUnknown(t *testing.T) {
	s := newSetup(t)
	_, err := s.client.Track("NOPE")
	require.ErrorIs(t, err, ledger.ErrProductNotFound)
	_, err = s.client.ProductQR("NOPE")
	require.ErrorIs(t, err, ledger.ErrProductNotFound)
}

func TestClient_ProductQR(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	_, err := s.client.Connect(ctx, chain.EthereumLike)
	require.NoError(t, err)
	_, err = s.client.CreateProduct(ctx, client.ProductInput{ID: "PROD-7", Name: "Olive Oil", Origin: "Grove"})
	require.NoError(t, err)

	p, err := s.client.ProductQR("PROD-7")
	require.NoError(t, err)
	assert.Equal(t, qr.Payload{
		ID:          "PROD-7",
		Name:        "Olive Oil",
		Timestamp:   "2024-07-01T10:00:00Z",
		TrackingURL: "https://trace.example/track/PROD-7",
	}, p)
}

func TestClient_Cancel(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	_, err := s.client.Connect(ctx, chain.SessionBased)
	require.NoError(t, err)

	started := make(chan chain.Call, 1)
	s.ic.Block(started, make(chan struct{}))
	done := make(chan error, 1)
	go func() {
		_, err := s.client.CreateProduct(ctx, client.ProductInput{ID: "PROD-1", Name: "Apples"})
		done <- err
	}()
	<-started
	_, ok := s.client.Pending("PROD-1")
	assert.True(t, ok)
	require.NoError(t, s.client.Cancel("PROD-1"))
	require.ErrorIs(t, <-done, chain.ErrUserRejected)
	assert.Empty(t, s.client.Products())
}

func TestClient_TrackFailed(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	_, err := s.client.Connect(ctx, chain.EthereumLike)
	require.NoError(t, err)
	_, err = s.client.CreateProduct(ctx, client.ProductInput{ID: "PROD-1", Name: "Apples"})
	require.NoError(t, err)

	s.eth.OnSubmit(func(context.Context, chain.Call) (chain.TxHandle, error) {
		return chain.TxHandle{}, chain.ErrReverted
	})
	_, err = s.client.RecordCheckpoint(ctx, "PROD-1", ledger.Processing, ledger.Payload{Location: "Mill"})
	require.ErrorIs(t, err, chain.ErrReverted)

	tr, err := s.client.Track("PROD-1")
	require.NoError(t, err)
	assert.Len(t, tr.Checkpoints, 1)
	require.Len(t, tr.Failed, 1)
	assert.Equal(t, ledger.Failed, tr.Failed[0].Status)
	assert.Equal(t, "Mill", tr.Failed[0].Payload.Location)
	assert.Equal(t, ledger.Farm, tr.Product.Stage)
}

func TestClient_Admin(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	_, err := s.client.AssignRole(ctx, s.ethAcc, "farmer")
	require.ErrorIs(t, err, chain.ErrNotConnected)

	_, err = s.client.Connect(ctx, chain.EthereumLike)
	require.NoError(t, err)
	h, err := s.client.AssignRole(ctx, s.ethAcc, "farmer")
	require.NoError(t, err)
	assert.NotEmpty(t, h.Ref)
	_, err = s.client.CreateBatch(ctx, "BATCH-1", "PROD-1", "PROD-2")
	require.NoError(t, err)

	calls := s.eth.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, chain.AssignRole, calls[0].Function)
	assert.Equal(t, []chain.Arg{chain.StringArg("BATCH-1"), chain.StringArg("PROD-1"), chain.StringArg("PROD-2")}, calls[1].Args)
	assert.Empty(t, s.client.Products(), "administrative calls are not ledger tracked")
}

func TestClient_AdminTimeout(t *testing.T) {
	s := newSetup(t, client.WithAdminTimeout(20*time.Millisecond))
	ctx := context.Background()
	_, err := s.client.Connect(ctx, chain.EthereumLike)
	require.NoError(t, err)

	s.eth.Block(nil, make(chan struct{}))
	_, err = s.client.CreateBatch(ctx, "BATCH-1")
	require.ErrorIs(t, err, chain.ErrTimeout)
}

func TestClient_PollBalances(t *testing.T) {
	s := newSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := s.client.Connect(ctx, chain.EthereumLike)
	require.NoError(t, err)

	var mu sync.Mutex
	n := 0
	s.eth.OnBalance(func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%d.0", n/2), nil
	})

	seen := make(chan string, 16)
	stopped := make(chan struct{})
	go func() {
		s.client.PollBalances(ctx, 5*time.Millisecond, func(sess session.Session) {
			select {
			case seen <- sess.Balance:
			default:
			}
		})
		close(stopped)
	}()

	first := <-seen
	second := <-seen
	assert.NotEqual(t, first, second, "only changes are reported")
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("PollBalances did not stop")
	}
}
