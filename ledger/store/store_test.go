// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ptest "polycry.pt/poly-go/test"

	"perun.network/provenance-backend/chain"
	chtest "perun.network/provenance-backend/chain/test"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/ledger/store"
)

func randomSnapshot(t *testing.T) ledger.Snapshot {
	t.Helper()
	rng := ptest.Prng(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var snap ledger.Snapshot
	for _, id := range []string{"PROD-1", "PROD-2"} {
		cps := []ledger.Checkpoint{{
			ProductID:   id,
			Stage:       ledger.Farm,
			Function:    chain.CreateProduct,
			Payload:     ledger.Payload{Name: "Honey", Location: "Hive 3", Attributes: map[string]string{"grade": "A"}},
			SubmittedBy: chtest.RandomAddress(rng),
			Backend:     chain.EthereumLike,
			TxRef:       chtest.RandomAddress(rng),
			Status:      ledger.Confirmed,
			Timestamp:   ts,
		}, {
			ProductID: id,
			Sequence:  1,
			Stage:     ledger.Retail,
			Function:  chain.AddCheckpoint,
			Payload:   ledger.Payload{Location: "Market"},
			Backend:   chain.EthereumLike,
			TxRef:     chtest.RandomAddress(rng),
			Status:    ledger.Confirmed,
			Timestamp: ts.Add(time.Hour),
		}}
		p, ok := ledger.Fold(cps)
		require.True(t, ok)
		snap.Products = append(snap.Products, ledger.ProductRecord{Product: p, Checkpoints: cps})
	}
	require.NoError(t, snap.Validate())
	return snap
}

func testStore(t *testing.T, s ledger.Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Products)

	snap := randomSnapshot(t)
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	snap.Products = snap.Products[:1]
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	loaded, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded, "save replaces the whole snapshot")
}

func TestMemory(t *testing.T) {
	testStore(t, store.NewMemory())
}

func TestMemory_NoAliasing(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	snap := randomSnapshot(t)
	require.NoError(t, m.SaveSnapshot(ctx, snap))

	snap.Products[0].Checkpoints[0].Payload.Attributes["grade"] = "C"
	loaded, err := m.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.Products[0].Checkpoints[0].Payload.Attributes["grade"])
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "snapshot.json")
	f := store.NewFile(path)
	testStore(t, f)
	assert.Equal(t, path, f.Path())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := store.NewFile(path).LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, ledger.ErrInvalidSnapshot)
}

func TestBadger(t *testing.T) {
	b, err := store.OpenBadger("")
	require.NoError(t, err)
	defer b.Close()
	testStore(t, b)
}

func TestBadger_Reopen(t *testing.T) {
	dir := t.TempDir()
	b, err := store.OpenBadger(dir)
	require.NoError(t, err)
	snap := randomSnapshot(t)
	require.NoError(t, b.SaveSnapshot(context.Background(), snap))
	require.NoError(t, b.Close())

	b, err = store.OpenBadger(dir)
	require.NoError(t, err)
	defer b.Close()
	loaded, err := b.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("PROVENANCE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PROVENANCE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := store.DialRedis(ctx, store.RedisConfig{Addr: addr, Key: "provenance-test/" + t.Name()})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.SaveSnapshot(ctx, ledger.Snapshot{}))
	testStore(t, r)
}

func TestDialRedis_NoAddress(t *testing.T) {
	_, err := store.DialRedis(context.Background(), store.RedisConfig{})
	assert.Error(t, err)
}
