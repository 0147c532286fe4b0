// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"bytes"
	"encoding/base64"
	"fmt"

	ed "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"perun.network/go-perun/wallet"
)

// Address is the ed25519 public key of an Account.
type Address ed.PublicKey

var _ wallet.Address = (*Address)(nil)

var addrEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_$",
).WithPadding(base64.NoPadding)

func (a Address) MarshalBinary() ([]byte, error) {
	return a[:], nil
}

func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != ed.PublicKeySize {
		return fmt.Errorf("invalid PK length: %d/%d", len(data), ed.PublicKeySize)
	}

	*a = make(Address, ed.PublicKeySize)
	copy(*a, data)
	return nil
}

func (a Address) String() string {
	return addrEncoding.EncodeToString(a[:])
}

// ParseAddress decodes the textual form returned by String.
func ParseAddress(s string) (Address, error) {
	data, err := addrEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding address: %w", err)
	}
	var a Address
	if err := a.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return a, nil
}

// Equal reports whether b is the same key. Addresses of other backends are
// never equal.
func (a Address) Equal(b wallet.Address) bool {
	other, ok := b.(*Address)
	return ok && bytes.Equal(a[:], (*other)[:])
}

func (a Address) Cmp(b wallet.Address) int {
	other, ok := b.(*Address)
	if !ok {
		panic("comparing addresses of different backends")
	}
	return bytes.Compare(a[:], (*other)[:])
}
