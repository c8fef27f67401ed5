package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("invalid credentials")

// PasswordLogin checks a single configured demo account. A bcrypt hash takes
// precedence over a plain password when both are set.
type PasswordLogin struct {
	username     string
	password     string
	passwordHash string
}

func NewPasswordLogin(username, password, passwordHash string) *PasswordLogin {
	return &PasswordLogin{
		username:     username,
		password:     password,
		passwordHash: passwordHash,
	}
}

func (p *PasswordLogin) Configured() bool {
	return p.username != "" && (p.password != "" || p.passwordHash != "")
}

func (p *PasswordLogin) Authenticate(username, password string) (UserProfile, error) {
	if !p.Configured() {
		return UserProfile{}, ErrUnconfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(p.username)) == 1

	var passOK bool
	if p.passwordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(p.passwordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(p.password)) == 1
	}

	if !userOK || !passOK {
		return UserProfile{}, ErrBadCredentials
	}

	return UserProfile{Username: p.username}, nil
}
