package auth

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dodns/internal/apperr"
	"dodns/internal/config"
)

// Authenticator checks login credentials against LDAP (when enabled) and
// the shared password.
type Authenticator struct {
	username string
	hash     []byte
	ldap     *LDAPClient
	log      *logrus.Entry
}

// NewAuthenticator hashes a plaintext password once at startup. ldap may be
// nil.
func NewAuthenticator(cfg config.AuthConfig, ldap *LDAPClient, log *logrus.Entry) (*Authenticator, error) {
	a := &Authenticator{username: cfg.Username, ldap: ldap, log: log.WithField("component", "auth")}

	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth.password_hash is not a bcrypt hash: %w", err)
		}
		a.hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		hash, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
		a.hash = []byte(hash)
	}
	return a, nil
}

// HashPassword returns the bcrypt hash used for auth.password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Authenticate returns the name the session is created for. An empty
// username means the shared account.
func (a *Authenticator) Authenticate(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if password == "" {
		return "", apperr.Validation("Missing required field: password")
	}

	if a.ldap != nil && username != "" && !strings.EqualFold(username, a.username) {
		id, err := a.ldap.Authenticate(username, password)
		if err != nil {
			a.log.WithError(err).WithField("username", username).Info("ldap login failed")
			return "", apperr.Auth("Invalid credentials")
		}
		if !a.ldap.Allowed(id.Groups) {
			a.log.WithField("username", id.Username).Warn("ldap user is not in the allowed group")
			return "", apperr.Auth("Access denied: you are not in an authorized group")
		}
		return id.Username, nil
	}

	if a.hash == nil {
		return "", apperr.Auth("Invalid credentials")
	}
	if username != "" && !strings.EqualFold(username, a.username) {
		return "", apperr.Auth("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", apperr.Auth("Invalid credentials")
	}
	return a.username, nil
}
