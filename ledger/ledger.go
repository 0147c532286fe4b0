// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps the append-only provenance record of products. It
// validates checkpoints, submits them through the active wallet backend and
// projects the current product state from the confirmed history.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
)

// PendingTransaction ties an in-flight checkpoint to its submission. At
// most one exists per product.
type PendingTransaction struct {
	ID         uuid.UUID
	Checkpoint Checkpoint
	Started    time.Time
}

// Ledger holds the confirmed checkpoints of all products and the pending
// submission slots.
type Ledger struct {
	log.Embedding

	contract chain.Contract
	store    Store
	now      func() time.Time

	mu       sync.RWMutex
	products map[string][]Checkpoint
	order    []string
	pending  map[string]*PendingTransaction
	failed   map[string][]Checkpoint

	persistMu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger for contract and restores the snapshot of store. A
// nil store keeps the ledger in memory only.
func New(ctx context.Context, contract chain.Contract, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		Embedding: log.MakeEmbedding(log.Default()),
		contract:  contract,
		store:     store,
		now:       time.Now,
		products:  make(map[string][]Checkpoint),
		pending:   make(map[string]*PendingTransaction),
		failed:    make(map[string][]Checkpoint),
	}
	for _, opt := range opts {
		opt(l)
	}
	if store == nil {
		return l, nil
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "loading snapshot")
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	for _, rec := range snap.Products {
		cps := make([]Checkpoint, len(rec.Checkpoints))
		for i, cp := range rec.Checkpoints {
			cps[i] = cp.clone()
		}
		l.products[rec.ID] = cps
		l.order = append(l.order, rec.ID)
	}
	l.Log().Debugf("Restored %d products", len(l.order))
	return l, nil
}

// Contract returns the contract the ledger records to.
func (l *Ledger) Contract() chain.Contract {
	return l.contract
}

// CreateProduct builds the farm checkpoint that creates product id. The
// name and origin are recorded in the payload.
func (l *Ledger) CreateProduct(id, name, origin string, payload Payload) (*Checkpoint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.WithMessage(chain.ErrInvalidState, "empty product id")
	}
	payload = payload.clone()
	payload.Name = name
	if origin != "" {
		payload.Location = origin
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.products[id]) > 0 {
		return nil, errors.WithMessagef(ErrDuplicateProduct, "product %s", id)
	}
	if _, ok := l.pending[id]; ok {
		return nil, errors.WithMessagef(ErrCheckpointConflict, "product %s", id)
	}
	return l.draft(id, 0, Farm, chain.CreateProduct, payload), nil
}

// AppendCheckpoint builds the next checkpoint of an existing product. A
// verified stage must reference the verified checkpoint in
// payload.VerifiedSequence.
func (l *Ledger) AppendCheckpoint(productID string, stage Stage, payload Payload) (*Checkpoint, error) {
	switch {
	case !stage.Valid():
		return nil, errors.WithMessagef(chain.ErrInvalidState, "unknown stage %q", stage)
	case stage == Farm:
		return nil, errors.WithMessage(chain.ErrInvalidState, "farm checkpoints only create products")
	}
	fn := chain.AddCheckpoint
	if stage == Verified {
		fn = chain.VerifyCheckpoint
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	confirmed, err := l.appendable(productID)
	if err != nil {
		return nil, err
	}
	if fn == chain.VerifyCheckpoint {
		if err := verifiable(productID, confirmed, payload.VerifiedSequence); err != nil {
			return nil, err
		}
	}
	return l.draft(productID, uint64(len(confirmed)), stage, fn, payload.clone()), nil
}

// TransferOwnership builds a checkpoint that hands the product to newOwner.
// It fails with ErrNotOwner if submitter does not own the product.
func (l *Ledger) TransferOwnership(productID, submitter, newOwner string) (*Checkpoint, error) {
	if strings.TrimSpace(newOwner) == "" {
		return nil, errors.WithMessage(chain.ErrInvalidState, "empty new owner")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	confirmed, err := l.appendable(productID)
	if err != nil {
		return nil, err
	}
	p, _ := Fold(confirmed)
	if !chain.EqualAddress(p.Owner, submitter) {
		return nil, errors.WithMessagef(ErrNotOwner, "product %s is owned by %s", productID, p.Owner)
	}
	return l.draft(productID, uint64(len(confirmed)), p.Stage, chain.TransferBatch, Payload{NewOwner: newOwner}), nil
}

// VerifyCheckpoint builds a verified checkpoint referencing the confirmed
// checkpoint seq of the product.
func (l *Ledger) VerifyCheckpoint(productID string, seq uint64, notes string) (*Checkpoint, error) {
	return l.AppendCheckpoint(productID, Verified, Payload{VerifiedSequence: &seq, Notes: notes})
}

// appendable returns the confirmed checkpoints of productID if a checkpoint
// may be appended. l.mu must be held.
func (l *Ledger) appendable(productID string) ([]Checkpoint, error) {
	confirmed := l.products[productID]
	if len(confirmed) == 0 {
		return nil, errors.WithMessagef(ErrProductNotFound, "product %s", productID)
	}
	if _, ok := l.pending[productID]; ok {
		return nil, errors.WithMessagef(ErrCheckpointConflict, "product %s", productID)
	}
	return confirmed, nil
}

func verifiable(productID string, confirmed []Checkpoint, seq *uint64) error {
	if seq == nil {
		return errors.WithMessage(chain.ErrInvalidState, "verification without checkpoint reference")
	}
	if *seq >= uint64(len(confirmed)) {
		return errors.WithMessagef(chain.ErrInvalidState, "product %s has no checkpoint %d", productID, *seq)
	}
	return nil
}

func (l *Ledger) draft(id string, seq uint64, stage Stage, fn chain.Function, payload Payload) *Checkpoint {
	return &Checkpoint{
		ProductID: id,
		Sequence:  seq,
		Stage:     stage,
		Function:  fn,
		Payload:   payload,
		Status:    Draft,
		Timestamp: l.now(),
	}
}

// begin takes the pending slot of the checkpoint's product and marks cp
// Submitted. The draft is checked again against the current ledger state.
func (l *Ledger) begin(cp *Checkpoint, submitter string, kind chain.Kind) (*PendingTransaction, error) {
	if cp.Status != Draft {
		return nil, errors.WithMessagef(chain.ErrInvalidState, "checkpoint is %v, not a draft", cp.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	confirmed := l.products[cp.ProductID]
	if _, ok := l.pending[cp.ProductID]; ok {
		return nil, errors.WithMessagef(ErrCheckpointConflict, "product %s", cp.ProductID)
	}
	switch {
	case cp.Function == chain.CreateProduct && len(confirmed) > 0:
		return nil, errors.WithMessagef(ErrDuplicateProduct, "product %s", cp.ProductID)
	case cp.Function != chain.CreateProduct && len(confirmed) == 0:
		return nil, errors.WithMessagef(ErrProductNotFound, "product %s", cp.ProductID)
	case cp.Sequence != uint64(len(confirmed)):
		return nil, errors.WithMessagef(chain.ErrInvalidState,
			"stale draft: sequence number %d, expected %d", cp.Sequence, len(confirmed))
	}
	if cp.Function == chain.TransferBatch {
		if p, _ := Fold(confirmed); !chain.EqualAddress(p.Owner, submitter) {
			return nil, errors.WithMessagef(ErrNotOwner, "product %s is owned by %s", cp.ProductID, p.Owner)
		}
	}

	cp.SubmittedBy = submitter
	cp.Backend = kind
	cp.Status = Submitted
	p := &PendingTransaction{
		ID:         uuid.New(),
		Checkpoint: cp.clone(),
		Started:    l.now(),
	}
	l.pending[cp.ProductID] = p
	return p, nil
}

// confirm appends the checkpoint of p as confirmed, releases the slot and
// persists the ledger. A persistence failure is logged; the checkpoint stays
// confirmed.
func (l *Ledger) confirm(ctx context.Context, p *PendingTransaction, txRef string) (Checkpoint, error) {
	l.mu.Lock()
	if l.pending[p.Checkpoint.ProductID] != p {
		l.mu.Unlock()
		return Checkpoint{}, errors.WithMessage(chain.ErrInvalidState, "submission no longer pending")
	}
	cp := p.Checkpoint.clone()
	cp.TxRef = txRef
	cp.Status = Confirmed
	cp.Timestamp = l.now()
	if len(l.products[cp.ProductID]) == 0 {
		l.order = append(l.order, cp.ProductID)
	}
	l.products[cp.ProductID] = append(l.products[cp.ProductID], cp)
	delete(l.pending, cp.ProductID)
	l.mu.Unlock()

	if err := l.persist(ctx); err != nil {
		l.Log().WithField("product", cp.ProductID).WithError(err).Warn("Persisting ledger snapshot")
	}
	return cp.clone(), nil
}

// fail releases the slot of p and records its checkpoint as a failed
// attempt.
func (l *Ledger) fail(p *PendingTransaction) Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := p.Checkpoint.ProductID
	if l.pending[id] == p {
		delete(l.pending, id)
	}
	cp := p.Checkpoint.clone()
	cp.Status = Failed
	cp.Timestamp = l.now()
	l.failed[id] = append(l.failed[id], cp)
	return cp.clone()
}

// FailedAttempts returns the failed submissions of productID in the order
// they failed. They are kept in memory only and never count for the
// sequence numbering or the projection.
func (l *Ledger) FailedAttempts(productID string) []Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.failed[productID]
	if len(src) == 0 {
		return nil
	}
	cps := make([]Checkpoint, len(src))
	for i, cp := range src {
		cps[i] = cp.clone()
	}
	return cps
}

func (l *Ledger) persist(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	return l.store.SaveSnapshot(ctx, l.Snapshot())
}

// Snapshot returns the current confirmed state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{Products: make([]ProductRecord, 0, len(l.order))}
	for _, id := range l.order {
		cps := l.checkpoints(id)
		p, _ := Fold(cps)
		snap.Products = append(snap.Products, ProductRecord{Product: p, Checkpoints: cps})
	}
	return snap
}

// Checkpoints returns a copy of the confirmed checkpoints of productID in
// sequence order.
func (l *Ledger) Checkpoints(productID string) []Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkpoints(productID)
}

func (l *Ledger) checkpoints(productID string) []Checkpoint {
	src := l.products[productID]
	if len(src) == 0 {
		return nil
	}
	cps := make([]Checkpoint, len(src))
	for i, cp := range src {
		cps[i] = cp.clone()
	}
	return cps
}

// ProductIDs returns the ids of all products in creation order.
func (l *Ledger) ProductIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Pending returns the in-flight submission of productID.
func (l *Ledger) Pending(productID string) (PendingTransaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pending[productID]
	if !ok {
		return PendingTransaction{}, false
	}
	cp := *p
	cp.Checkpoint = p.Checkpoint.clone()
	return cp, true
}
