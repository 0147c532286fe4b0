// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

// Store persists ledger snapshots. A snapshot is always read and written as
// a whole.
type Store interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// Snapshot is the persisted state of the ledger: every product in creation
// order together with its confirmed checkpoints.
type Snapshot struct {
	Products []ProductRecord `json:"products"`
}

// ProductRecord is the persisted form of one product. The projection fields
// are informational; the checkpoints are authoritative.
type ProductRecord struct {
	Product
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Validate checks that s satisfies the ledger rules: contiguous sequence
// numbers starting at a farm creation, confirmed checkpoints only, unique
// product ids.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Products))
	for _, rec := range s.Products {
		if rec.ID == "" {
			return errors.WithMessage(ErrInvalidSnapshot, "record without product id")
		}
		if _, dup := seen[rec.ID]; dup {
			return errors.WithMessagef(ErrInvalidSnapshot, "product %s stored twice", rec.ID)
		}
		seen[rec.ID] = struct{}{}

		if len(rec.Checkpoints) == 0 || !isCreation(rec.Checkpoints[0]) {
			return errors.WithMessagef(ErrInvalidSnapshot, "product %s: first checkpoint is not a farm creation", rec.ID)
		}
		for i, cp := range rec.Checkpoints {
			switch {
			case cp.ProductID != rec.ID:
				return errors.WithMessagef(ErrInvalidSnapshot, "product %s: checkpoint %d belongs to %s", rec.ID, i, cp.ProductID)
			case cp.Sequence != uint64(i):
				return errors.WithMessagef(ErrInvalidSnapshot, "product %s: checkpoint %d has sequence number %d", rec.ID, i, cp.Sequence)
			case cp.Status != Confirmed:
				return errors.WithMessagef(ErrInvalidSnapshot, "product %s: checkpoint %d is %v", rec.ID, i, cp.Status)
			case i > 0 && cp.Function == chain.CreateProduct:
				return errors.WithMessagef(ErrInvalidSnapshot, "product %s: repeated creation at %d", rec.ID, i)
			}
		}
	}
	return nil
}
