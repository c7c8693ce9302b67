// Package auth gates websocket connections. Enrollment and passkey
// handling live in the outer web layer; the core consumes only this
// contract.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Authenticator is the contract the hub consumes.
type Authenticator interface {
	// IsEnrolled reports whether any credential exists yet.
	IsEnrolled() bool
	// ValidateSession checks a client-presented auth token.
	ValidateSession(token string) bool
	// IsLocalhost reports whether the request originates locally;
	// loopback connections are accepted without a token.
	IsLocalhost(r *http.Request) bool
}

// TokenFile authenticates against a single token stored on disk.
type TokenFile struct {
	path string
}

// NewTokenFile creates the authenticator over <dataDir>/auth-token.
func NewTokenFile(dataDir string) *TokenFile {
	return &TokenFile{path: filepath.Join(dataDir, "auth-token")}
}

func (a *TokenFile) IsEnrolled() bool {
	info, err := os.Stat(a.path)
	return err == nil && info.Size() > 0
}

func (a *TokenFile) ValidateSession(token string) bool {
	if token == "" {
		return false
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return false
	}
	want := strings.TrimSpace(string(data))
	return want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

func (a *TokenFile) IsLocalhost(r *http.Request) bool { return isLoopback(r) }

// Enroll mints and stores a fresh token, replacing any existing one.
func (a *TokenFile) Enroll() (string, error) {
	token := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(a.path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}

// NoAuth accepts every connection. Enabled with EVE_NO_AUTH.
type NoAuth struct{}

func (NoAuth) IsEnrolled() bool                 { return true }
func (NoAuth) ValidateSession(string) bool      { return true }
func (NoAuth) IsLocalhost(r *http.Request) bool { return isLoopback(r) }

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
