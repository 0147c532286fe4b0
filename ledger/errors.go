// SPDX-License-Identifier: Apache-2.0
package ledger

import (
	"github.com/pkg/errors"
)

var (
	// ErrDuplicateProduct a product with a confirmed farm checkpoint already exists.
	ErrDuplicateProduct = errors.New("product already exists")
	// ErrProductNotFound the product has no confirmed farm checkpoint.
	ErrProductNotFound = errors.New("product not found")
	// ErrCheckpointConflict a submission for the product is already pending.
	ErrCheckpointConflict = errors.New("checkpoint submission already pending")
	// ErrNotOwner the submitter does not own the product.
	ErrNotOwner = errors.New("submitter is not the product owner")
	// ErrInvalidSnapshot a persisted snapshot violates the ledger rules.
	ErrInvalidSnapshot = errors.New("invalid ledger snapshot")
)
