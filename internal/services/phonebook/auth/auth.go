// Package auth issues and verifies phonebook bearer tokens and resolves
// request credentials to identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/louisbranch/phonebook/internal/platform/errors"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

const bearerScheme = "bearer"

// Config holds the secrets the service needs. Values are supplied once at
// construction.
type Config struct {
	// SigningSecret keys the HS256 token signature.
	SigningSecret string
	// FixedTestCredential is the single password accepted for every identity.
	FixedTestCredential string
	Now                 func() time.Time
}

// IdentityReader resolves identities by ID.
type IdentityReader interface {
	GetIdentity(ctx context.Context, identityID string) (storage.Identity, error)
}

// Claims captures the validated contents of a token.
type Claims struct {
	Username string
	Subject  string
	IssuedAt time.Time
}

// tokenClaims is the wire form used for JWT encoding and parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Service issues tokens, verifies them, and checks the login credential.
type Service struct {
	secret         []byte
	credentialHash []byte
	identities     IdentityReader
	now            func() time.Time
}

// NewService validates cfg and prepares the credential hash.
func NewService(cfg Config, identities IdentityReader) (*Service, error) {
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return nil, errors.New("signing secret is required")
	}
	if cfg.FixedTestCredential == "" {
		return nil, errors.New("fixed credential is required")
	}
	if identities == nil {
		return nil, errors.New("identity reader is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.FixedTestCredential), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash fixed credential: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		secret:         []byte(cfg.SigningSecret),
		credentialHash: hash,
		identities:     identities,
		now:            now,
	}, nil
}

// IssueToken signs a token naming identity. Tokens carry no expiry and stay
// valid until the signing secret changes.
func (s *Service) IssueToken(identity storage.Identity) (string, error) {
	if identity.ID == "" {
		return "", errors.New("identity id is required")
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Username: identity.Username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature of token and returns its claims.
func (s *Service) VerifyToken(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token is required")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if parsed.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token subject is required")
	}

	claims := Claims{
		Username: parsed.Username,
		Subject:  parsed.Subject,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// CheckCredential reports whether password matches the fixed credential.
func (s *Service) CheckCredential(password string) bool {
	return bcrypt.CompareHashAndPassword(s.credentialHash, []byte(password)) == nil
}

// AuthenticateRequest resolves an Authorization header value to the calling
// identity. Missing or non-bearer values are anonymous; a bearer value that
// fails verification is an error. A token whose subject no longer exists
// resolves to anonymous.
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (*storage.Identity, error) {
	scheme, credential := splitAuthorization(header)
	if !strings.EqualFold(scheme, bearerScheme) {
		return nil, nil
	}
	if credential == "" {
		return nil, apperrors.New(apperrors.CodeTokenInvalid, "bearer token is required")
	}
	claims, err := s.VerifyToken(credential)
	if err != nil {
		return nil, err
	}
	identity, err := s.identities.GetIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load token identity", err)
	}
	return &identity, nil
}

// splitAuthorization separates the scheme from the credential. Space and tab
// both delimit the scheme.
func splitAuthorization(header string) (string, string) {
	header = strings.TrimSpace(header)
	i := strings.IndexAny(header, " \t")
	if i < 0 {
		return header, ""
	}
	return header[:i], strings.TrimSpace(header[i+1:])
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token is malformed", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token is invalid", err)
	}
}
