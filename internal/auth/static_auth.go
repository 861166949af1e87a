package auth

import (
	"context"
	"net/http"
)

// StaticAuthenticator is a development-only authenticator that accepts any ask_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, r *http.Request) (*Principal, error) {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	// Accept any ask_ prefixed key with a static user identity
	return &Principal{
		UserID: "static-" + token[:8],
		Email:  "dev@localhost",
	}, nil
}
