// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"sort"

	"perun.network/provenance-backend/chain"
)

// Fold projects the current state of a product from its checkpoints. Only
// confirmed checkpoints are applied, in sequence order. It reports false if
// there is no confirmed farm checkpoint creating the product. Fold does not
// modify cps and always yields the same Product for the same input.
func Fold(cps []Checkpoint) (Product, bool) {
	confirmed := make([]Checkpoint, 0, len(cps))
	for _, cp := range cps {
		if cp.Status == Confirmed {
			confirmed = append(confirmed, cp)
		}
	}
	sort.SliceStable(confirmed, func(i, j int) bool {
		return confirmed[i].Sequence < confirmed[j].Sequence
	})
	if len(confirmed) == 0 || !isCreation(confirmed[0]) {
		return Product{}, false
	}

	var p Product
	for _, cp := range confirmed {
		apply(&p, cp)
	}
	return p, true
}

func isCreation(cp Checkpoint) bool {
	return cp.Stage == Farm && cp.Function == chain.CreateProduct
}

// apply applies the effect of one confirmed checkpoint.
func apply(p *Product, cp Checkpoint) {
	switch cp.Function {
	case chain.CreateProduct:
		if p.ID != "" {
			// Only the first creation counts.
			return
		}
		p.ID = cp.ProductID
		p.Name = cp.Payload.Name
		p.Origin = cp.Payload.Location
		p.CurrentLocation = cp.Payload.Location
		p.Owner = cp.SubmittedBy
		p.Blockchain = cp.Backend
		p.CreatedAt = cp.Timestamp
		p.Stage = Farm
	case chain.AddCheckpoint:
		p.Stage = cp.Stage
		switch cp.Stage {
		case Processing, Transport, Retail:
			if cp.Payload.Location != "" {
				p.CurrentLocation = cp.Payload.Location
			}
		}
	case chain.TransferBatch:
		if cp.Payload.NewOwner != "" {
			p.Owner = cp.Payload.NewOwner
		}
	case chain.VerifyCheckpoint:
		p.Stage = Verified
		p.Verified = true
	}
	if cp.TxRef != "" {
		p.TransactionHash = cp.TxRef
	}
	p.CheckpointCount++
	p.UpdatedAt = cp.Timestamp
}
