package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates incoming requests and returns the Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
}

// Principal is an authenticated caller identity. Project membership is not
// stored on the principal; the tenant resolver recomputes it per request.
type Principal struct {
	UserID string
	Email  string
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken extracts an ask_ API key from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrUnauthenticated
	}
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "ask_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
