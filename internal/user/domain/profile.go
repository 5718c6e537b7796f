package domain

import "strings"

// RequiredProfileFields are the fields a profile needs before it counts as complete.
var RequiredProfileFields = []string{
	"firstName", "lastName", "email", "phone", "dateOfBirth", "address", "city", "country",
}

// ProfileField returns the value of a profile field by its JSON name.
func (u *User) ProfileField(name string) string {
	switch name {
	case "firstName":
		return u.FirstName
	case "lastName":
		return u.LastName
	case "email":
		return u.Email
	case "phone":
		return u.Phone
	case "dateOfBirth":
		return u.DateOfBirth
	case "address":
		return u.Address
	case "city":
		return u.City
	case "country":
		return u.Country
	case "gender":
		return u.Gender
	case "bio":
		return u.Bio
	}
	return ""
}

// MissingProfileFields lists required fields that are empty after trimming.
func (u *User) MissingProfileFields() []string {
	var missing []string
	for _, f := range RequiredProfileFields {
		if strings.TrimSpace(u.ProfileField(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsProfileComplete reports whether every required profile field is set.
func (u *User) IsProfileComplete() bool {
	return u != nil && len(u.MissingProfileFields()) == 0
}

// HasBasicProfile reports whether name and email are set, the minimum the
// profile-completion form collects.
func (u *User) HasBasicProfile() bool {
	return u != nil &&
		strings.TrimSpace(u.FirstName) != "" &&
		strings.TrimSpace(u.LastName) != "" &&
		strings.TrimSpace(u.Email) != ""
}

// Verification is the next outstanding verification for a user.
type Verification int

const (
	VerificationNone Verification = iota
	VerificationPhone
	VerificationEmail
)

// PendingVerification applies phone-before-email precedence.
func (u *User) PendingVerification() Verification {
	switch {
	case !u.IsPhoneVerified:
		return VerificationPhone
	case !u.IsEmailVerified:
		return VerificationEmail
	default:
		return VerificationNone
	}
}
