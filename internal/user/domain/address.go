package domain

import (
	"errors"
	"slices"
)

// ErrAddressNotFound is returned when an address id is not on the user record.
var ErrAddressNotFound = errors.New("address not found")

// Address is a saved shipping address. A non-empty list has exactly one default.
type Address struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	IsDefault  bool   `json:"isDefault"`
}

// DefaultAddress returns the default address, if any.
func (u *User) DefaultAddress() (Address, bool) {
	for _, a := range u.Addresses {
		if a.IsDefault {
			return a, true
		}
	}
	return Address{}, false
}

// WithAddress returns a copy with a appended. The first address, or one flagged
// IsDefault, becomes the only default.
func (u *User) WithAddress(a Address) *User {
	cp := u.Clone()
	if len(cp.Addresses) == 0 {
		a.IsDefault = true
	}
	if a.IsDefault {
		clearDefault(cp.Addresses)
	}
	cp.Addresses = append(cp.Addresses, a)
	return cp
}

// WithoutAddress returns a copy without the address id. When the default is
// removed the first remaining address is promoted.
func (u *User) WithoutAddress(id string) (*User, error) {
	i := slices.IndexFunc(u.Addresses, func(a Address) bool { return a.ID == id })
	if i < 0 {
		return nil, ErrAddressNotFound
	}
	cp := u.Clone()
	wasDefault := cp.Addresses[i].IsDefault
	cp.Addresses = slices.Delete(cp.Addresses, i, i+1)
	if wasDefault && len(cp.Addresses) > 0 {
		cp.Addresses[0].IsDefault = true
	}
	return cp, nil
}

// WithDefaultAddress returns a copy where id is the only default.
func (u *User) WithDefaultAddress(id string) (*User, error) {
	i := slices.IndexFunc(u.Addresses, func(a Address) bool { return a.ID == id })
	if i < 0 {
		return nil, ErrAddressNotFound
	}
	cp := u.Clone()
	clearDefault(cp.Addresses)
	cp.Addresses[i].IsDefault = true
	return cp, nil
}

// Normalize returns a copy that satisfies the single-default rule: the first
// flagged address wins, and an unflagged list promotes its first entry.
func (u *User) Normalize() *User {
	cp := u.Clone()
	if len(cp.Addresses) == 0 {
		return cp
	}
	i := slices.IndexFunc(cp.Addresses, func(a Address) bool { return a.IsDefault })
	if i < 0 {
		i = 0
	}
	clearDefault(cp.Addresses)
	cp.Addresses[i].IsDefault = true
	return cp
}

func clearDefault(list []Address) {
	for i := range list {
		list[i].IsDefault = false
	}
}
