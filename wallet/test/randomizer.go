// SPDX-License-Identifier: Apache-2.0
package test

import (
	"math/rand"

	pwallet "perun.network/go-perun/wallet"

	"perun.network/provenance-backend/wallet"
)

// Randomizer creates random wallet keys and session stores from a test rng.
type Randomizer struct{}

// NewRandomizer returns a new Randomizer.
func NewRandomizer() *Randomizer {
	return &Randomizer{}
}

// NewRandomAccount creates a new random account.
func (r *Randomizer) NewRandomAccount(rng *rand.Rand) pwallet.Account {
	acc, err := wallet.NewAccount(rng)
	if err != nil {
		panic("NewRandomAccount: " + err.Error())
	}
	return acc
}

// NewRandomAddress creates a new random address.
func (r *Randomizer) NewRandomAddress(rng *rand.Rand) pwallet.Address {
	return r.NewRandomAccount(rng).Address()
}

// NewSessionStore creates an unpersisted session store seeded from rng.
func (r *Randomizer) NewSessionStore(rng *rand.Rand) *wallet.SessionStore {
	s, err := wallet.NewRAMSessionStore(rng)
	if err != nil {
		panic("NewSessionStore: failed to create store: " + err.Error())
	}
	return s
}
