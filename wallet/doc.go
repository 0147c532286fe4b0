// SPDX-License-Identifier: Apache-2.0

// Package wallet contains the local key material of the provenance backend.
// It uses ed25519 keys as application identities and the EdDSA signature
// algorithm to protect the persisted sign-in of session-based chain backends
// against tampering.
package wallet // import "perun.network/provenance-backend/wallet"
