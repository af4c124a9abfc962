package profile

import "strings"

// Role selects the profile payload and the UI surface a user is authorized for.
type Role string

const (
	RoleStudent  Role = "student"
	RoleEmployee Role = "employee"
	RoleTPO      Role = "tpo"
)

// DefaultRole is assigned when nothing else declares a role.
const DefaultRole = RoleStudent

// Roles lists every valid role.
var Roles = []Role{RoleStudent, RoleEmployee, RoleTPO}

// Valid reports whether r is one of the three portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleEmployee, RoleTPO:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// ParseRole accepts a role name in any case, surrounded by any whitespace.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// NormalizeEmail lower-cases and trims an email address. Registry and identity
// lookups always go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayNameFromEmail returns the local part of email, or email itself when it has
// no @.
func DisplayNameFromEmail(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
