package telemetry

import (
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials supplies the bearer token for direct HTTP calls.
// Token returns ErrNoToken when no credential is available.
type Credentials interface {
	Token() (string, error)
}

// StaticToken is a fixed credential. The empty token means none.
type StaticToken string

// Token implements Credentials.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenCandidate yields one possible token, or "" if it has none.
type TokenCandidate func() string

// FromValue is a candidate holding a fixed string.
func FromValue(token string) TokenCandidate {
	return func() string { return token }
}

// FromEnv is a candidate reading an environment variable at lookup time.
func FromEnv(name string) TokenCandidate {
	return func() string { return os.Getenv(name) }
}

// TokenSource returns the first candidate that parses as a JWT and has not
// expired. Signatures are not verified; the backend does that.
type TokenSource struct {
	candidates []TokenCandidate
	parser     *jwt.Parser
	now        func() time.Time
}

// NewTokenSource creates a TokenSource consulting candidates in order.
func NewTokenSource(candidates ...TokenCandidate) *TokenSource {
	return &TokenSource{
		candidates: candidates,
		parser:     jwt.NewParser(),
		now:        time.Now,
	}
}

// Token implements Credentials.
func (s *TokenSource) Token() (string, error) {
	now := s.now()
	for _, candidate := range s.candidates {
		token := strings.TrimSpace(candidate())
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			continue
		}
		if s.usable(token, now) {
			return token, nil
		}
	}
	return "", ErrNoToken
}

func (s *TokenSource) usable(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := s.parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return false
	}
	return true
}
