// SPDX-License-Identifier: Apache-2.0

// Package client ties the wallet session, the checkpoint ledger and the
// product registry together into the operations offered to users.
package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/qr"
	"perun.network/provenance-backend/session"
)

// ProvenanceClient is the user facing provenance client.
type ProvenanceClient struct {
	log.Embedding

	wallet    *session.Manager
	ledger    *ledger.Ledger
	registry  *ledger.Registry
	submitter *ledger.Submitter

	trackingURL  string
	adminTimeout time.Duration
	now          func() time.Time
}

// Option configures a ProvenanceClient.
type Option func(*ProvenanceClient)

// WithTrackingURL sets the origin of tracking links in product QR codes.
func WithTrackingURL(base string) Option {
	return func(c *ProvenanceClient) { c.trackingURL = base }
}

// WithClock sets the time source of QR payloads.
func WithClock(now func() time.Time) Option {
	return func(c *ProvenanceClient) { c.now = now }
}

// WithAdminTimeout bounds administrative contract calls.
func WithAdminTimeout(d time.Duration) Option {
	return func(c *ProvenanceClient) { c.adminTimeout = d }
}

// New creates a client. The submitter must record into l and publish to r.
func New(w *session.Manager, l *ledger.Ledger, r *ledger.Registry, s *ledger.Submitter, opts ...Option) *ProvenanceClient {
	c := &ProvenanceClient{
		Embedding:    log.MakeEmbedding(log.Default()),
		wallet:       w,
		ledger:       l,
		registry:     r,
		submitter:    s,
		trackingURL:  "http://localhost:8080",
		adminTimeout: ledger.DefaultSubmitTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current wallet session.
func (c *ProvenanceClient) Session() session.Session {
	return c.wallet.Session()
}

// Connect connects the wallet backend of the given kind.
func (c *ProvenanceClient) Connect(ctx context.Context, kind chain.Kind) (session.Session, error) {
	return c.wallet.Connect(ctx, kind)
}

// Disconnect ends the wallet session.
func (c *ProvenanceClient) Disconnect(ctx context.Context) error {
	return c.wallet.Disconnect(ctx)
}

// Restore adopts an already authorized backend without prompting.
func (c *ProvenanceClient) Restore(ctx context.Context) (session.Session, error) {
	return c.wallet.RestoreExistingSession(ctx)
}

// ProductInput describes a new product.
type ProductInput struct {
	ID      string
	Name    string
	Origin  string
	Payload ledger.Payload
}

// CreateProduct records the farm checkpoint creating a product and waits
// for its confirmation.
func (c *ProvenanceClient) CreateProduct(ctx context.Context, in ProductInput) (ledger.Checkpoint, error) {
	cp, err := c.ledger.CreateProduct(in.ID, in.Name, in.Origin, in.Payload)
	if err != nil {
		return ledger.Checkpoint{}, err
	}
	return c.submitter.Submit(ctx, cp)
}

// RecordCheckpoint appends a stage checkpoint to an existing product.
func (c *ProvenanceClient) RecordCheckpoint(ctx context.Context, productID string, stage ledger.Stage, p ledger.Payload) (ledger.Checkpoint, error) {
	cp, err := c.ledger.AppendCheckpoint(productID, stage, p)
	if err != nil {
		return ledger.Checkpoint{}, err
	}
	return c.submitter.Submit(ctx, cp)
}

// TransferOwnership hands a product owned by the session account to
// newOwner.
func (c *ProvenanceClient) TransferOwnership(ctx context.Context, productID, newOwner string) (ledger.Checkpoint, error) {
	_, sess, err := c.wallet.Active()
	if err != nil {
		return ledger.Checkpoint{}, err
	}
	cp, err := c.ledger.TransferOwnership(productID, sess.Address, newOwner)
	if err != nil {
		return ledger.Checkpoint{}, err
	}
	return c.submitter.Submit(ctx, cp)
}

// VerifyCheckpoint marks the confirmed checkpoint seq of a product as
// verified.
func (c *ProvenanceClient) VerifyCheckpoint(ctx context.Context, productID string, seq uint64, notes string) (ledger.Checkpoint, error) {
	cp, err := c.ledger.VerifyCheckpoint(productID, seq, notes)
	if err != nil {
		return ledger.Checkpoint{}, err
	}
	return c.submitter.Submit(ctx, cp)
}

// Cancel aborts the in-flight submission of a product.
func (c *ProvenanceClient) Cancel(productID string) error {
	return c.submitter.Cancel(productID)
}

// Pending returns the in-flight submission of a product.
func (c *ProvenanceClient) Pending(productID string) (ledger.PendingTransaction, bool) {
	return c.submitter.Pending(productID)
}

// Track is the tracking view of a product.
type Track struct {
	Product     ledger.Product      `json:"product"`
	Checkpoints []ledger.Checkpoint `json:"checkpoints"`
	// Failed lists the failed submissions of this process.
	Failed []ledger.Checkpoint `json:"failed,omitempty"`
}

// Track returns the current state, the confirmed history and the failed
// attempts of a product.
func (c *ProvenanceClient) Track(productID string) (Track, error) {
	p, ok := c.registry.Product(productID)
	if !ok {
		return Track{}, errors.WithMessagef(ledger.ErrProductNotFound, "product %s", productID)
	}
	return Track{
		Product:     p,
		Checkpoints: c.ledger.Checkpoints(productID),
		Failed:      c.ledger.FailedAttempts(productID),
	}, nil
}

// Products returns all products in creation order.
func (c *ProvenanceClient) Products() []ledger.Product {
	return c.registry.Products()
}

// ProductQR returns the QR payload of a product.
func (c *ProvenanceClient) ProductQR(productID string) (qr.Payload, error) {
	p, ok := c.registry.Product(productID)
	if !ok {
		return qr.Payload{}, errors.WithMessagef(ledger.ErrProductNotFound, "product %s", productID)
	}
	return qr.Generate(p.ID, p.Name, c.trackingURL, c.now())
}
