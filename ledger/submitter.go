// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/session"
)

// DefaultSubmitTimeout bounds how long a backend may take for one
// submission.
const DefaultSubmitTimeout = 2 * time.Minute

// Wallet provides the connected backend. It is implemented by
// *session.Manager.
type Wallet interface {
	Active() (chain.Backend, session.Session, error)
}

// Submitter executes checkpoints on the active backend and records the
// result in the ledger.
type Submitter struct {
	log.Embedding

	wallet   Wallet
	ledger   *Ledger
	registry *Registry
	timeout  time.Duration
	metrics  *Metrics

	mu       sync.Mutex
	inflight map[string]*inflight
}

type inflight struct {
	pending     *PendingTransaction
	cancel      context.CancelFunc
	cancellable bool
	cancelled   bool
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithTimeout sets the submission timeout.
func WithTimeout(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics instruments the submitter.
func WithMetrics(m *Metrics) SubmitterOption {
	return func(s *Submitter) { s.metrics = m }
}

// NewSubmitter returns a submitter recording into l and publishing to r.
func NewSubmitter(w Wallet, l *Ledger, r *Registry, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		Embedding: log.MakeEmbedding(log.Default()),
		wallet:    w,
		ledger:    l,
		registry:  r,
		timeout:   DefaultSubmitTimeout,
		inflight:  make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit executes the draft cp. On success cp is Confirmed, appended to
// the ledger and published to the registry. On any failure after the draft
// was accepted, cp is Failed and the product's slot is released; the next
// draft reuses the same sequence number. cp is updated in place and its
// final state is returned.
func (s *Submitter) Submit(ctx context.Context, cp *Checkpoint) (Checkpoint, error) {
	if cp == nil {
		return Checkpoint{}, errors.WithMessage(chain.ErrInvalidState, "nil checkpoint")
	}
	// The session may have changed since the draft was built.
	b, sess, err := s.wallet.Active()
	if err != nil {
		return *cp, err
	}
	call, err := cp.Call(s.ledger.Contract())
	if err != nil {
		return *cp, errors.WithMessage(chain.ErrInvalidState, err.Error())
	}
	subCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fl, err := s.begin(cp, sess.Address, b, cancel)
	if err != nil {
		return *cp, err
	}
	p := fl.pending

	subLog := s.Log().WithField("product", cp.ProductID).WithField("sequence", cp.Sequence).
		WithField("backend", b.Kind())
	subLog.Infof("Submitting %s", cp.Function)
	s.metrics.started()
	start := time.Now()

	h, err := s.execute(subCtx, b, call)
	cancelled := s.untrack(cp.ProductID, fl)
	switch {
	case err != nil && cancelled:
		err = errors.WithMessage(chain.ErrUserRejected, "submission cancelled")
	case err != nil:
		err = chain.ContextError(err)
	case cancelled:
		subLog.Warn("Cancellation came too late, backend already confirmed")
	}
	s.metrics.finished(cp.Function, b.Kind(), time.Since(start), err)

	if err != nil {
		*cp = s.ledger.fail(p)
		subLog.WithError(err).Warn("Submission failed")
		return *cp, err
	}

	confirmed, err := s.ledger.confirm(context.WithoutCancel(ctx), p, h.Ref)
	if err != nil {
		cp.Status = Failed
		return *cp, err
	}
	*cp = confirmed.clone()
	s.registry.Publish(confirmed)
	subLog.WithField("tx", h.Ref).Info("Checkpoint confirmed")
	return confirmed, nil
}

// execute runs the backend submission and stops waiting when ctx is done.
func (s *Submitter) execute(ctx context.Context, b chain.Backend, call chain.Call) (chain.TxHandle, error) {
	type result struct {
		h   chain.TxHandle
		err error
	}
	res := make(chan result, 1)
	go func() {
		h, err := b.Submit(ctx, call)
		res <- result{h, err}
	}()

	select {
	case r := <-res:
		return r.h, r.err
	case <-ctx.Done():
	}
	select {
	case r := <-res:
		return r.h, r.err
	default:
	}
	go func() {
		if r := <-res; r.err == nil {
			s.Log().WithField("tx", r.h.Ref).Warnf("%s confirmed after the submission was abandoned", call.Function)
		}
	}()
	return chain.TxHandle{}, ctx.Err()
}

// Cancel aborts the pending submission of productID. It fails with
// chain.ErrNotCancellable if nothing is in flight or the backend can not
// cancel.
func (s *Submitter) Cancel(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fl, ok := s.inflight[productID]
	if !ok {
		return errors.WithMessagef(chain.ErrNotCancellable, "no submission in flight for %s", productID)
	}
	if !fl.cancellable {
		return errors.WithMessagef(chain.ErrNotCancellable, "backend can not cancel %s", productID)
	}
	fl.cancelled = true
	fl.cancel()
	return nil
}

// Pending returns the in-flight submission of productID.
func (s *Submitter) Pending(productID string) (PendingTransaction, bool) {
	return s.ledger.Pending(productID)
}

// begin moves cp to Submitted and registers it as in flight. Both happen
// under s.mu so that Cancel sees every Submitted checkpoint.
func (s *Submitter) begin(cp *Checkpoint, submitter string, b chain.Backend, cancel context.CancelFunc) (*inflight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.ledger.begin(cp, submitter, b.Kind())
	if err != nil {
		return nil, err
	}
	fl := &inflight{pending: p, cancel: cancel, cancellable: b.Cancellable()}
	s.inflight[cp.ProductID] = fl
	return fl, nil
}

// untrack removes fl and reports whether it was cancelled.
func (s *Submitter) untrack(productID string, fl *inflight) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[productID] == fl {
		delete(s.inflight, productID)
	}
	return fl.cancelled
}
