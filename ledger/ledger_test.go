// SPDX-License-Identifier: Apache-2.0

package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "polycry.pt/poly-go/errors"
	ptest "polycry.pt/poly-go/test"

	"perun.network/provenance-backend/chain"
	chtest "perun.network/provenance-backend/chain/test"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/ledger/store"
	"perun.network/provenance-backend/session"
)

var contract = chain.Contract{Address: "0x1111111111111111111111111111111111111111", Name: "supply-chain"}

// clock returns a fixed time so that checkpoints survive a store round-trip
// unchanged.
func clock() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

type setup struct {
	backend   *chtest.Backend
	wallet    *session.Manager
	store     *store.Memory
	ledger    *ledger.Ledger
	registry  *ledger.Registry
	submitter *ledger.Submitter
	owner     string
}

func newSetup(t *testing.T, kind chain.Kind, opts ...ledger.SubmitterOption) *setup {
	t.Helper()
	rng := ptest.Prng(t)
	owner := chtest.RandomAddress(rng)
	b := chtest.NewBackend(kind, owner)
	w := session.NewManager([]chain.Backend{b})
	_, err := w.Connect(context.Background(), kind)
	require.NoError(t, err, "connecting wallet")

	st := store.NewMemory()
	l, err := ledger.New(context.Background(), contract, st, ledger.WithClock(clock))
	require.NoError(t, err, "creating ledger")
	r := ledger.NewRegistry(l)
	return &setup{
		backend:   b,
		wallet:    w,
		store:     st,
		ledger:    l,
		registry:  r,
		submitter: ledger.NewSubmitter(w, l, r, opts...),
		owner:     owner,
	}
}

func (s *setup) create(t *testing.T, id string) ledger.Checkpoint {
	t.Helper()
	cp, err := s.ledger.CreateProduct(id, "Organic Apples", "Farm A", ledger.Payload{BatchID: "B-" + id, HarvestDate: 1700000000})
	require.NoError(t, err, "drafting %s", id)
	confirmed, err := s.submitter.Submit(context.Background(), cp)
	require.NoError(t, err, "creating %s", id)
	return confirmed
}

func (s *setup) append(t *testing.T, id string, stage ledger.Stage, p ledger.Payload) ledger.Checkpoint {
	t.Helper()
	cp, err := s.ledger.AppendCheckpoint(id, stage, p)
	require.NoError(t, err, "drafting %v of %s", stage, id)
	confirmed, err := s.submitter.Submit(context.Background(), cp)
	require.NoError(t, err, "submitting %v of %s", stage, id)
	return confirmed
}

func TestLedger_Scenario(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)

	c0 := s.create(t, "PROD-1")
	assert.Equal(t, ledger.Confirmed, c0.Status)
	assert.Equal(t, s.owner, c0.SubmittedBy)
	assert.NotEmpty(t, c0.TxRef)

	c1 := s.append(t, "PROD-1", ledger.Processing, ledger.Payload{Notes: "washed"})
	c2 := s.append(t, "PROD-1", ledger.Transport, ledger.Payload{Location: "Warehouse B", Temperature: "4C"})

	assert.Equal(t, []uint64{0, 1, 2}, []uint64{c0.Sequence, c1.Sequence, c2.Sequence})
	p, ok := s.registry.Product("PROD-1")
	require.True(t, ok)
	assert.Equal(t, "Warehouse B", p.CurrentLocation)
	assert.Equal(t, "Farm A", p.Origin)
	assert.Equal(t, "Organic Apples", p.Name)
	assert.Equal(t, s.owner, p.Owner)
	assert.Equal(t, ledger.Transport, p.Stage)
	assert.Equal(t, chain.EthereumLike, p.Blockchain)
	assert.Equal(t, c2.TxRef, p.TransactionHash)

	calls := s.backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, chain.CreateProduct, calls[0].Function)
	assert.Equal(t, chain.UintArg(1700000000), calls[0].Args[2])
	assert.Equal(t, chain.AddCheckpoint, calls[2].Function)
	assert.Equal(t, "transport", calls[2].Args[1].Str)
}

func TestLedger_DuplicateProduct(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")

	_, err := s.ledger.CreateProduct("PROD-1", "Again", "Farm B", ledger.Payload{})
	require.ErrorIs(t, err, ledger.ErrDuplicateProduct)

	_, err = s.ledger.CreateProduct("  ", "Nameless", "Farm B", ledger.Payload{})
	require.ErrorIs(t, err, chain.ErrInvalidState)
}

func TestLedger_ProductNotFound(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	for _, stage := range []ledger.Stage{ledger.Processing, ledger.Transport, ledger.Retail} {
		_, err := s.ledger.AppendCheckpoint("MISSING", stage, ledger.Payload{})
		require.ErrorIs(t, err, ledger.ErrProductNotFound, "stage %v", stage)
	}
	_, err := s.ledger.VerifyCheckpoint("MISSING", 0, "")
	require.ErrorIs(t, err, ledger.ErrProductNotFound)
	_, err = s.ledger.TransferOwnership("MISSING", s.owner, "0x2222222222222222222222222222222222222222")
	require.ErrorIs(t, err, ledger.ErrProductNotFound)

	_, err = s.ledger.AppendCheckpoint("MISSING", ledger.Farm, ledger.Payload{})
	require.ErrorIs(t, err, chain.ErrInvalidState, "farm only via create")
}

func TestLedger_PendingConflict(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-2")
	s.create(t, "PROD-3")

	started := make(chan chain.Call, 1)
	release := make(chan struct{})
	s.backend.Block(started, release)

	cp, err := s.ledger.AppendCheckpoint("PROD-2", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := s.submitter.Submit(context.Background(), cp)
		done <- err
	}()
	<-started

	pending, ok := s.submitter.Pending("PROD-2")
	require.True(t, ok)
	assert.Equal(t, ledger.Submitted, pending.Checkpoint.Status)

	_, err = s.ledger.AppendCheckpoint("PROD-2", ledger.Transport, ledger.Payload{})
	require.ErrorIs(t, err, ledger.ErrCheckpointConflict)
	_, err = s.ledger.CreateProduct("PROD-2", "x", "y", ledger.Payload{})
	require.ErrorIs(t, err, ledger.ErrDuplicateProduct)

	other, err := s.ledger.AppendCheckpoint("PROD-3", ledger.Processing, ledger.Payload{})
	require.NoError(t, err, "other products are not blocked")

	close(release)
	require.NoError(t, <-done)
	_, ok = s.submitter.Pending("PROD-2")
	assert.False(t, ok)

	s.backend.OnSubmit(nil)
	_, err = s.submitter.Submit(context.Background(), other)
	require.NoError(t, err)
}

func TestLedger_ConflictOnSecondSubmit(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-2")

	started := make(chan chain.Call, 1)
	release := make(chan struct{})
	s.backend.Block(started, release)

	first, err := s.ledger.AppendCheckpoint("PROD-2", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	second, err := s.ledger.AppendCheckpoint("PROD-2", ledger.Transport, ledger.Payload{})
	require.NoError(t, err, "drafting is allowed while nothing is pending")

	done := make(chan error, 1)
	go func() {
		_, err := s.submitter.Submit(context.Background(), first)
		done <- err
	}()
	<-started

	got, err := s.submitter.Submit(context.Background(), second)
	require.ErrorIs(t, err, ledger.ErrCheckpointConflict)
	assert.Equal(t, ledger.Draft, got.Status)

	close(release)
	require.NoError(t, <-done)

	_, err = s.submitter.Submit(context.Background(), second)
	require.ErrorIs(t, err, chain.ErrInvalidState, "the draft is stale now")
}

func TestLedger_FailedReleasesSlot(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")

	s.backend.OnSubmit(func(context.Context, chain.Call) (chain.TxHandle, error) {
		return chain.TxHandle{}, errors.WithMessage(chain.ErrReverted, "out of gas")
	})
	cp, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	failed, err := s.submitter.Submit(context.Background(), cp)
	require.ErrorIs(t, err, chain.ErrReverted)
	assert.Equal(t, ledger.Failed, failed.Status)
	assert.Equal(t, ledger.Failed, cp.Status, "the draft is updated in place")
	_, ok := s.submitter.Pending("PROD-1")
	assert.False(t, ok)
	assert.Len(t, s.ledger.Checkpoints("PROD-1"), 1)
	attempts := s.ledger.FailedAttempts("PROD-1")
	require.Len(t, attempts, 1, "the failed attempt stays on record")
	assert.Equal(t, failed, attempts[0])
	assert.Equal(t, s.owner, attempts[0].SubmittedBy)

	s.backend.OnSubmit(nil)
	retry, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	assert.Equal(t, failed.Sequence, retry.Sequence, "failed sequence number is reused")
	confirmed, err := s.submitter.Submit(context.Background(), retry)
	require.NoError(t, err)
	assert.EqualValues(t, 1, confirmed.Sequence)

	_, err = s.submitter.Submit(context.Background(), cp)
	require.ErrorIs(t, err, chain.ErrInvalidState, "failed checkpoints can not be resubmitted")
	assert.Len(t, s.ledger.FailedAttempts("PROD-1"), 1)
	p, _ := s.registry.Product("PROD-1")
	assert.Equal(t, ledger.Processing, p.Stage)
	assert.Empty(t, s.ledger.FailedAttempts("PROD-2"))
}

func TestLedger_Timeout(t *testing.T) {
	s := newSetup(t, chain.EthereumLike, ledger.WithTimeout(20*time.Millisecond))
	s.create(t, "PROD-1")

	s.backend.Block(nil, make(chan struct{}))
	cp, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Retail, ledger.Payload{Location: "Shelf 4"})
	require.NoError(t, err)
	got, err := s.submitter.Submit(context.Background(), cp)
	require.ErrorIs(t, err, chain.ErrTimeout)
	assert.Equal(t, ledger.Failed, got.Status)

	_, err = s.ledger.AppendCheckpoint("PROD-1", ledger.Retail, ledger.Payload{})
	require.NoError(t, err, "a timed out submission must not lock the product")
}

func TestLedger_Cancel(t *testing.T) {
	s := newSetup(t, chain.SessionBased)
	s.create(t, "PROD-1")

	require.ErrorIs(t, s.submitter.Cancel("PROD-1"), chain.ErrNotCancellable, "nothing in flight")

	started := make(chan chain.Call, 1)
	s.backend.Block(started, make(chan struct{}))
	cp, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := s.submitter.Submit(context.Background(), cp)
		done <- err
	}()
	<-started

	require.NoError(t, s.submitter.Cancel("PROD-1"))
	err = <-done
	require.ErrorIs(t, err, chain.ErrUserRejected)
	assert.Equal(t, ledger.Failed, cp.Status)
	_, ok := s.submitter.Pending("PROD-1")
	assert.False(t, ok)
	require.ErrorIs(t, s.submitter.Cancel("PROD-1"), chain.ErrNotCancellable, "after failure")
}

func TestLedger_CancelOnceSubmitted(t *testing.T) {
	s := newSetup(t, chain.SessionBased)
	s.create(t, "PROD-1")

	s.backend.Block(nil, make(chan struct{}))
	cp, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := s.submitter.Submit(context.Background(), cp)
		done <- err
	}()

	// As soon as the checkpoint shows up as submitted it can be cancelled.
	require.Eventually(t, func() bool {
		_, ok := s.submitter.Pending("PROD-1")
		return ok
	}, time.Second, 50*time.Microsecond)
	require.NoError(t, s.submitter.Cancel("PROD-1"))
	require.ErrorIs(t, <-done, chain.ErrUserRejected)
	assert.Len(t, s.ledger.FailedAttempts("PROD-1"), 1)
}

func TestLedger_CancelUnsupported(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")

	started := make(chan chain.Call, 1)
	release := make(chan struct{})
	s.backend.Block(started, release)
	cp, err := s.ledger.AppendCheckpoint("PROD-1", ledger.Processing, ledger.Payload{})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := s.submitter.Submit(context.Background(), cp)
		done <- err
	}()
	<-started

	require.ErrorIs(t, s.submitter.Cancel("PROD-1"), chain.ErrNotCancellable)
	close(release)
	require.NoError(t, <-done)
	require.ErrorIs(t, s.submitter.Cancel("PROD-1"), chain.ErrNotCancellable, "after confirmation")
}

func TestLedger_NotConnected(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	cp, err := s.ledger.CreateProduct("PROD-1", "Apples", "Farm A", ledger.Payload{})
	require.NoError(t, err)

	require.NoError(t, s.wallet.Disconnect(context.Background()))
	got, err := s.submitter.Submit(context.Background(), cp)
	require.ErrorIs(t, err, chain.ErrNotConnected)
	assert.Equal(t, ledger.Draft, got.Status)
	_, ok := s.submitter.Pending("PROD-1")
	assert.False(t, ok)
	assert.Empty(t, s.backend.Calls())
}

func TestLedger_TransferOwnership(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")
	buyer := chtest.RandomAddress(ptest.Prng(t, "buyer"))
	require.NotEqual(t, s.owner, buyer)

	_, err := s.ledger.TransferOwnership("PROD-1", buyer, s.owner)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	assert.Len(t, s.backend.Calls(), 1, "no round-trip for a foreign product")

	cp, err := s.ledger.TransferOwnership("PROD-1", s.owner, buyer)
	require.NoError(t, err)
	_, err = s.submitter.Submit(context.Background(), cp)
	require.NoError(t, err)

	p, ok := s.registry.Product("PROD-1")
	require.True(t, ok)
	assert.Equal(t, buyer, p.Owner)
	assert.Equal(t, ledger.Farm, p.Stage, "a transfer keeps the stage")

	_, err = s.ledger.TransferOwnership("PROD-1", s.owner, buyer)
	require.ErrorIs(t, err, ledger.ErrNotOwner, "the previous owner lost the product")
}

func TestLedger_TransferCheckedAtSubmit(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	rng := ptest.Prng(t, "accounts")
	s.create(t, "PROD-1")
	buyer, other := chtest.RandomAddress(rng), chtest.RandomAddress(rng)
	require.NotEqual(t, s.owner, buyer)
	require.NotEqual(t, s.owner, other)

	cp, err := s.ledger.TransferOwnership("PROD-1", s.owner, buyer)
	require.NoError(t, err)

	// The wallet switches to another account before submission.
	s.wallet.OnAccountChanged([]string{other})
	_, err = s.submitter.Submit(context.Background(), cp)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
}

func TestLedger_Verify(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")
	s.append(t, "PROD-1", ledger.Processing, ledger.Payload{})

	_, err := s.ledger.VerifyCheckpoint("PROD-1", 5, "")
	require.ErrorIs(t, err, chain.ErrInvalidState)
	_, err = s.ledger.AppendCheckpoint("PROD-1", ledger.Verified, ledger.Payload{})
	require.ErrorIs(t, err, chain.ErrInvalidState, "verification needs a reference")

	cp, err := s.ledger.VerifyCheckpoint("PROD-1", 1, "lab report 42")
	require.NoError(t, err)
	confirmed, err := s.submitter.Submit(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, chain.VerifyCheckpoint, confirmed.Function)

	p, ok := s.registry.Product("PROD-1")
	require.True(t, ok)
	assert.True(t, p.Verified)
	assert.Equal(t, ledger.Verified, p.Stage)
	calls := s.backend.Calls()
	assert.Equal(t, chain.UintArg(1), calls[len(calls)-1].Args[1])
}

func TestLedger_ConcurrentProducts(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	g := perrors.NewGatherer()
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("PROD-%d", i)
		g.Go(func() error {
			cp, err := s.ledger.CreateProduct(id, "Pears", "Farm C", ledger.Payload{})
			if err != nil {
				return err
			}
			if _, err := s.submitter.Submit(context.Background(), cp); err != nil {
				return err
			}
			cp, err = s.ledger.AppendCheckpoint(id, ledger.Processing, ledger.Payload{})
			if err != nil {
				return err
			}
			_, err = s.submitter.Submit(context.Background(), cp)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, s.registry.Products(), 8)
	for _, p := range s.registry.Products() {
		assert.Equal(t, 2, p.CheckpointCount)
	}
}

func TestLedger_Restore(t *testing.T) {
	s := newSetup(t, chain.EthereumLike)
	s.create(t, "PROD-1")
	s.create(t, "PROD-2")
	s.append(t, "PROD-1", ledger.Transport, ledger.Payload{Location: "Port"})

	restored, err := ledger.New(context.Background(), contract, s.store, ledger.WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, []string{"PROD-1", "PROD-2"}, restored.ProductIDs())
	assert.Equal(t, s.ledger.Checkpoints("PROD-1"), restored.Checkpoints("PROD-1"))

	r := ledger.NewRegistry(restored)
	assert.Equal(t, s.registry.Products(), r.Products())

	snap, err := s.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Products, 2)
	assert.Equal(t, "Port", snap.Products[0].CurrentLocation)
	assert.Equal(t, s.owner, snap.Products[0].Owner)
	assert.NotEmpty(t, snap.Products[0].TransactionHash)
}

type failingStore struct{ load, save error }

func (f failingStore) LoadSnapshot(context.Context) (ledger.Snapshot, error) {
	return ledger.Snapshot{}, f.load
}

func (f failingStore) SaveSnapshot(context.Context, ledger.Snapshot) error { return f.save }

func TestLedger_StoreErrors(t *testing.T) {
	_, err := ledger.New(context.Background(), contract, failingStore{load: errors.New("disk gone")})
	require.Error(t, err)

	rng := ptest.Prng(t)
	b := chtest.NewBackend(chain.EthereumLike, chtest.RandomAddress(rng))
	w := session.NewManager([]chain.Backend{b})
	_, err = w.Connect(context.Background(), chain.EthereumLike)
	require.NoError(t, err)
	l, err := ledger.New(context.Background(), contract, failingStore{save: errors.New("read-only")})
	require.NoError(t, err)
	r := ledger.NewRegistry(l)
	sub := ledger.NewSubmitter(w, l, r)

	cp, err := l.CreateProduct("PROD-1", "Apples", "Farm A", ledger.Payload{})
	require.NoError(t, err)
	_, err = sub.Submit(context.Background(), cp)
	require.NoError(t, err, "a persistence failure does not undo a confirmed checkpoint")
	_, ok := r.Product("PROD-1")
	assert.True(t, ok)
}
