// Package account implements per-user security policy: settings updates and
// credential changes with history and lockout enforcement.
package account

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum accepted password length
	MinPasswordLength = 8
	// BcryptCost is the cost factor for password-history hashes
	BcryptCost = 12
)

// PasswordPolicy checks new credentials for baseline strength before they are
// sent to the identity provider, which applies its own policy on top.
type PasswordPolicy struct{}

// NewPasswordPolicy creates a new PasswordPolicy instance
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{}
}

// Validate returns the list of failed requirements, empty when the password
// is acceptable.
func (p *PasswordPolicy) Validate(password string) []string {
	var problems []string

	if len(password) < MinPasswordLength {
		problems = append(problems, "Password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		problems = append(problems, "Password must contain at least one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "Password must contain at least one lowercase letter")
	}
	if !hasNumber {
		problems = append(problems, "Password must contain at least one digit")
	}

	return problems
}

// Hash produces the salted hash recorded in password history.
func (p *PasswordPolicy) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches reports whether the password matches a stored history hash.
func (p *PasswordPolicy) Matches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
