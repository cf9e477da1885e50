// Package auth implements the authentication and authorization gate (C4):
// resolving an inbound RPC's caller identity from a static token or a
// signed JWT, and the role-based permission table operations check
// against that identity.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leoscope/leoscope/internal/models"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrInvalidStaticToken = errors.New("invalid static token")
	ErrMissingClaims      = errors.New("missing required claims")
	ErrInvalidSignature   = errors.New("invalid token signature")
)

// Claims is the JWT payload used for a User's signed_token.
type Claims struct {
	UserID string
	Role   models.Role
	Exp    time.Time
}

// UserLookup resolves a caller identity from a static token's hash. It is
// satisfied by the metadata store's UserStore.
type UserLookup interface {
	GetByStaticTokenHash(ctx context.Context, hash string) (*models.User, error)
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service resolves caller identity for the coordinator's auth gate (C4).
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	users       UserLookup
	logger      *slog.Logger
}

// NewService creates a new authentication service. users may be nil for
// callers that only need JWT issuance (e.g. cmd/gentoken).
func NewService(cfg *Config, users UserLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: cfg.TokenExpiry,
		users:       users,
		logger:      logger,
	}
}

// GenerateToken issues a signed_token for a user, carrying their role so
// the auth gate does not need a store round-trip to authorize a request.
func (s *Service) GenerateToken(userID string, role models.Role) (string, error) {
	if userID == "" {
		return "", ErrMissingClaims
	}

	now := time.Now()
	exp := now.Add(s.tokenExpiry)

	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
		"nbf":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a signed_token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := mapClaims["sub"].(string)
	if !ok || userID == "" {
		return nil, ErrMissingClaims
	}
	roleStr, _ := mapClaims["role"].(string)
	expFloat, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, ErrMissingClaims
	}

	return &Claims{
		UserID: userID,
		Role:   models.Role(roleStr),
		Exp:    time.Unix(int64(expFloat), 0),
	}, nil
}

// ValidateStaticToken resolves a static token to the user it was issued
// to, via a hash lookup (the raw token is never stored, only its SHA256
// hash).
func (s *Service) ValidateStaticToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidStaticToken
	}
	if s.users == nil {
		return nil, ErrInvalidStaticToken
	}

	hash := HashStaticToken(token)
	user, err := s.users.GetByStaticTokenHash(ctx, hash)
	if err != nil {
		s.logger.Debug("static token lookup failed", "error", err)
		return nil, ErrInvalidStaticToken
	}
	if user == nil {
		return nil, ErrInvalidStaticToken
	}
	return user, nil
}

// GenerateStaticToken produces a new random static token. The raw value is
// returned exactly once to the caller (register_user/register_node) and
// never persisted; only its hash is stored.
func GenerateStaticToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return "leo_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashStaticToken computes the storage form of a static token.
func HashStaticToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken extracts the token from a "Bearer <token>" header
// value.
func ExtractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// SecureCompare performs a constant-time string comparison to avoid
// leaking token contents through timing side channels.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
