package domain

import (
	"errors"
	"fmt"
)

type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialToken
	credentialBasic
)

var errNoCredential = errors.New("no credential configured")

// Credential is a closed variant type over the two supported authentication
// forms: an access token, or a username/password pair. Unknown variants are
// rejected at startup via Validate rather than at push time.
type Credential struct {
	kind     credentialKind
	username string
	secret   string
}

// NewTokenCredential builds a token credential. The username half of the
// push credential is resolved lazily from the acting identity's login.
func NewTokenCredential(token string) Credential {
	return Credential{kind: credentialToken, secret: token}
}

// NewBasicCredential builds a username/password credential.
func NewBasicCredential(username, password string) Credential {
	return Credential{kind: credentialBasic, username: username, secret: password}
}

// Validate rejects empty or unknown credential variants.
func (c Credential) Validate() error {
	switch c.kind {
	case credentialToken:
		if c.secret == "" {
			return fmt.Errorf("%w: empty token", ErrConfiguration)
		}
	case credentialBasic:
		if c.username == "" || c.secret == "" {
			return fmt.Errorf("%w: username and password are both required", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: %v", ErrConfiguration, errNoCredential)
	}
	return nil
}

// IsToken reports whether this is a token credential.
func (c Credential) IsToken() bool { return c.kind == credentialToken }

// Token returns the access token for token credentials.
func (c Credential) Token() string {
	if c.kind != credentialToken {
		return ""
	}
	return c.secret
}

// Resolve produces the (username, secret) pair used to build an
// authenticated push URL. For token credentials the username is obtained
// from the supplied login callback, typically the forge's "current user"
// endpoint.
func (c Credential) Resolve(login func() (string, error)) (string, string, error) {
	switch c.kind {
	case credentialToken:
		username, err := login()
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve login for token credential: %w", err)
		}
		return username, c.secret, nil
	case credentialBasic:
		return c.username, c.secret, nil
	default:
		return "", "", errNoCredential
	}
}
