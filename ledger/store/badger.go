// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"perun.network/provenance-backend/ledger"
)

// Badger keeps the snapshot in an embedded badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithMessage(err, "opening badger database")
	}
	return &Badger{db: db}, nil
}

func (b *Badger) LoadSnapshot(context.Context) (ledger.Snapshot, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(SnapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return ledger.Snapshot{}, errors.WithMessage(err, "reading snapshot")
	}
	return decode(data)
}

func (b *Badger) SaveSnapshot(_ context.Context, s ledger.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(SnapshotKey), data)
	})
	return errors.WithMessage(err, "writing snapshot")
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
