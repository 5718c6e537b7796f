package domain

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Role is the storefront role carried on the user record.
type Role string

const (
	RoleUser       Role = "User"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
)

// Preferences are the visitor's storefront preferences.
type Preferences struct {
	Newsletter    bool            `json:"newsletter,omitempty"`
	Language      string          `json:"language,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Theme         string          `json:"theme,omitempty"`
	Notifications map[string]bool `json:"notifications,omitempty"`
}

// User is the authenticated identity as returned by the remote API.
// Records are treated as immutable; mutators return a fresh copy.
type User struct {
	ID              string      `json:"id"`
	FirstName       string      `json:"firstName,omitempty"`
	LastName        string      `json:"lastName,omitempty"`
	Email           string      `json:"email,omitempty"`
	Phone           string      `json:"phone,omitempty"`
	Role            Role        `json:"role,omitempty"`
	IsEmailVerified bool        `json:"isEmailVerified"`
	IsPhoneVerified bool        `json:"isPhoneVerified"`
	Addresses       []Address   `json:"addresses,omitempty"`
	Preferences     Preferences `json:"preferences,omitempty"`
	DateOfBirth     string      `json:"dateOfBirth,omitempty"`
	Gender          string      `json:"gender,omitempty"`
	Bio             string      `json:"bio,omitempty"`
	Address         string      `json:"address,omitempty"`
	City            string      `json:"city,omitempty"`
	Country         string      `json:"country,omitempty"`
	AuthProvider    string      `json:"authProvider,omitempty"`
	CreatedAt       time.Time   `json:"createdAt,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt,omitempty"`
}

// UnmarshalJSON accepts the identifier as either "id" or "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var aux struct {
		plain
		LegacyID  string `json:"_id"`
		BirthDate string `json:"birthDate"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.LegacyID
	}
	if u.DateOfBirth == "" {
		u.DateOfBirth = aux.BirthDate
	}
	return nil
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Addresses = slices.Clone(u.Addresses)
	if u.Preferences.Notifications != nil {
		cp.Preferences.Notifications = make(map[string]bool, len(u.Preferences.Notifications))
		for k, v := range u.Preferences.Notifications {
			cp.Preferences.Notifications[k] = v
		}
	}
	return &cp
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasRole reports whether the user's role is one of roles.
func (u *User) HasRole(roles ...Role) bool {
	return u != nil && slices.Contains(roles, u.Role)
}
