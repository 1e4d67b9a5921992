package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Credentials holds the single admin account.
type Credentials struct {
	user string
	hash []byte
}

// NewCredentials uses hash when given, otherwise hashes password.
func NewCredentials(user, password, hash string) (*Credentials, error) {
	if user == "" {
		return nil, errors.New("admin user required")
	}
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, err
		}
		return &Credentials{user: user, hash: []byte(hash)}, nil
	}
	if password == "" {
		return nil, errors.New("admin password required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Credentials{user: user, hash: h}, nil
}

// Check reports whether user and password match the admin account.
func (c *Credentials) Check(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.user)) == 1
	passOK := bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
	return userOK && passOK
}
