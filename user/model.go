package user

import (
	"strings"
	"time"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/internal/opt"
)

// Model is the audit model name for users.
const Model = "User"

// User is the stored account. Email is the deterministic ciphertext of the
// normalised address; Phone, FirstName and LastName are random-IV
// ciphertext.
type User struct {
	ID           int64       `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone,omitempty"`
	FirstName    string      `json:"firstName,omitempty"`
	LastName     string      `json:"lastName,omitempty"`
	DateOfBirth  *time.Time  `json:"dateOfBirth,omitempty"`
	PasswordHash string      `json:"passwordHash,omitempty"`
	Role         access.Role `json:"role"`
	IsActive     bool        `json:"isActive"`
	LastLogin    *time.Time  `json:"lastLogin,omitempty"`
	ProfileImage string      `json:"profileImage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Profile is the decrypted view of a user. It never carries the password
// hash.
type Profile struct {
	ID           int64       `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone,omitempty"`
	FirstName    string      `json:"firstName,omitempty"`
	LastName     string      `json:"lastName,omitempty"`
	DateOfBirth  *time.Time  `json:"dateOfBirth,omitempty"`
	Role         access.Role `json:"role"`
	IsActive     bool        `json:"isActive"`
	LastLogin    *time.Time  `json:"lastLogin,omitempty"`
	ProfileImage string      `json:"profileImage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// RegisterInput holds the fields of a new account.
type RegisterInput struct {
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Phone     string      `json:"phone,omitempty"`
	FirstName string      `json:"firstName,omitempty"`
	LastName  string      `json:"lastName,omitempty"`
	Role      access.Role `json:"role,omitempty"`
}

// Patch is a partial update. Unset fields are left alone; a set empty
// string clears an optional field.
type Patch struct {
	Username     opt.Value[string]      `json:"username,omitzero"`
	Email        opt.Value[string]      `json:"email,omitzero"`
	Phone        opt.Value[string]      `json:"phone,omitzero"`
	FirstName    opt.Value[string]      `json:"firstName,omitzero"`
	LastName     opt.Value[string]      `json:"lastName,omitzero"`
	DateOfBirth  opt.Value[string]      `json:"dateOfBirth,omitzero"`
	ProfileImage opt.Value[string]      `json:"profileImage,omitzero"`
	Password     opt.Value[string]      `json:"password,omitzero"`
	Role         opt.Value[access.Role] `json:"role,omitzero"`
	IsActive     opt.Value[bool]        `json:"isActive,omitzero"`
}

// Session is an authenticated account with its bearer token.
type Session struct {
	ID       int64       `json:"id"`
	Token    string      `json:"token"`
	Role     access.Role `json:"role"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Phone    string      `json:"phone,omitempty"`
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func usernameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
