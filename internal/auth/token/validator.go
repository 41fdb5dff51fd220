// Package token verifies identity tokens entirely offline against a locally
// held public key. No network call is ever made; a token that was valid when
// issued stays usable until its expiry regardless of connectivity.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Asymmetric algorithms only. A symmetric token would put the signing secret
// on every device.
var allowedMethods = []string{"RS256", "ES256"}

// CredentialError reports a token that failed verification, with a stable
// machine-readable reason.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return "credential rejected: " + e.Reason
}

// Claims is the verified identity extracted from a token.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the value the store registry namespaces by: the email
// when present, else the subject.
func (c *Claims) Identity() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// Config for the offline validator. Issuer, audience and key id are optional
// constraints; when set, tokens must match them.
type Config struct {
	PublicKeyPath string
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

// Validator verifies tokens against a pinned public key.
type Validator struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string
	keyID     string
	leeway    time.Duration
	log       zerolog.Logger
}

// NewValidator loads the PEM public key and builds a validator.
func NewValidator(cfg Config, log zerolog.Logger) (*Validator, error) {
	pemBytes, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %s: %w", cfg.PublicKeyPath, err)
	}
	key, err := parsePublicKey(pemBytes)
	if err != nil {
		return nil, err
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 60 * time.Second
	}
	return &Validator{
		publicKey: key,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		keyID:     cfg.KeyID,
		leeway:    leeway,
		log:       log.With().Str("component", "token_validator").Logger(),
	}, nil
}

// NewValidatorWithKey builds a validator around an already-parsed key.
// Used by tests and embedded callers.
func NewValidatorWithKey(key crypto.PublicKey, cfg Config, log zerolog.Logger) *Validator {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 60 * time.Second
	}
	return &Validator{
		publicKey: key,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		keyID:     cfg.KeyID,
		leeway:    leeway,
		log:       log.With().Str("component", "token_validator").Logger(),
	}
}

func parsePublicKey(pemBytes []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", key)
	}
}

// Validate verifies a token signature and claims offline and returns the
// identity it carries.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedMethods),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, v.classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &CredentialError{Reason: "invalid claims"}
	}
	if claims.Subject == "" {
		return nil, &CredentialError{Reason: "missing subject"}
	}
	if claims.Email == "" {
		return nil, &CredentialError{Reason: "missing email"}
	}
	return claims, nil
}

func (v *Validator) keyFunc(t *jwt.Token) (interface{}, error) {
	if v.keyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != v.keyID {
			return nil, fmt.Errorf("unexpected key id %q", kid)
		}
	}
	return v.publicKey, nil
}

// classify folds jwt parse failures into stable credential reasons so the
// state machine can branch on them without string matching.
func (v *Validator) classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &CredentialError{Reason: "expired"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &CredentialError{Reason: "bad signature"}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &CredentialError{Reason: "not yet valid"}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &CredentialError{Reason: "wrong issuer"}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &CredentialError{Reason: "wrong audience"}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &CredentialError{Reason: "malformed"}
	default:
		v.log.Debug().Err(err).Msg("Token rejected")
		return &CredentialError{Reason: "invalid"}
	}
}

// IsExpired reports whether a token is past its expiry without verifying the
// signature. Cheap pre-check for the periodic re-evaluation loop and the
// login fast path; never use it to grant access. An unparseable token or a
// missing exp claim reports false so full validation classifies the failure.
func (v *Validator) IsExpired(tokenStr string) bool {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Now().After(claims.ExpiresAt.Time.Add(v.leeway))
}

// ExpiresAt returns the unverified expiry of a token, if parseable.
func (v *Validator) ExpiresAt(tokenStr string) (time.Time, bool) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
