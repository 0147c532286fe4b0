// SPDX-License-Identifier: Apache-2.0

// Package store provides persistence backends for ledger snapshots. All
// stores keep the snapshot as a single JSON document.
package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/ledger"
)

// SnapshotKey is the key under which key-value stores keep the snapshot.
const SnapshotKey = "provenance/snapshot"

var (
	_ ledger.Store = (*Memory)(nil)
	_ ledger.Store = (*File)(nil)
	_ ledger.Store = (*Badger)(nil)
	_ ledger.Store = (*Redis)(nil)
)

func encode(s ledger.Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, errors.WithMessage(err, "encoding snapshot")
}

// decode parses a stored snapshot. Empty data is an empty snapshot.
func decode(data []byte) (ledger.Snapshot, error) {
	var s ledger.Snapshot
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return ledger.Snapshot{}, errors.WithMessage(ledger.ErrInvalidSnapshot, err.Error())
	}
	return s, nil
}
