// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"sync"
)

// Source provides the confirmed checkpoint history the registry projects.
type Source interface {
	ProductIDs() []string
	Checkpoints(productID string) []Checkpoint
}

// Registry serves product projections. Projections are cached per product
// and recomputed whenever the confirmed history grew, so they can not
// diverge from the ledger.
type Registry struct {
	src Source

	mu    sync.Mutex
	cache map[string]Product
}

// NewRegistry returns a registry over src.
func NewRegistry(src Source) *Registry {
	return &Registry{src: src, cache: make(map[string]Product)}
}

// Publish notifies the registry of a newly confirmed checkpoint.
func (r *Registry) Publish(cp Checkpoint) {
	r.mu.Lock()
	delete(r.cache, cp.ProductID)
	r.mu.Unlock()
	r.Product(cp.ProductID)
}

// Product returns the current state of product id.
func (r *Registry) Product(id string) (Product, bool) {
	cps := r.src.Checkpoints(id)
	if len(cps) == 0 {
		return Product{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[id]; ok && p.CheckpointCount == len(cps) {
		return p, true
	}
	p, ok := Fold(cps)
	if !ok {
		return Product{}, false
	}
	r.cache[id] = p
	return p, true
}

// Products returns all products in creation order.
func (r *Registry) Products() []Product {
	ids := r.src.ProductIDs()
	products := make([]Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Product(id); ok {
			products = append(products, p)
		}
	}
	return products
}
