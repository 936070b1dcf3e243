package service

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"collab-notes-core/internal/config"
)

// SecretVerifier checks the master wipe secret. The comparison mechanism is
// injected so call sites stay the same whether the secret is held in clear
// text, hashed, or checked elsewhere.
type SecretVerifier interface {
	Verify(secret string) bool
}

// PlainSecretVerifier compares against a configured clear-text secret.
type PlainSecretVerifier struct {
	Secret string
}

func (v PlainSecretVerifier) Verify(secret string) bool {
	if v.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.Secret), []byte(secret)) == 1
}

// BcryptSecretVerifier compares against a bcrypt hash of the secret.
type BcryptSecretVerifier struct {
	Hash string
}

func (v BcryptSecretVerifier) Verify(secret string) bool {
	if v.Hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(v.Hash), []byte(secret)) == nil
}

// NewVerifierFromConfig prefers the hashed secret when both are configured.
func NewVerifierFromConfig(cfg config.NotesConfig) SecretVerifier {
	if cfg.MasterPasswordHash != "" {
		return BcryptSecretVerifier{Hash: cfg.MasterPasswordHash}
	}
	return PlainSecretVerifier{Secret: cfg.MasterPassword}
}
