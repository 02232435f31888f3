package gateway

import (
	"errors"

	"golang.org/x/oauth2"
)

// StaticToken wraps a single pre-supplied token, e.g. a personal access token.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
}

// CredentialError marks a failure to obtain the bearer token. Token sources
// return it so the request is not retried with the same broken credential.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "obtain credential: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// isCredentialFailure reports whether err came from the token source rather
// than from the API request itself.
func isCredentialFailure(err error) bool {
	var cerr *CredentialError
	if errors.As(err, &cerr) {
		return true
	}
	var rerr *oauth2.RetrieveError
	return errors.As(err, &rerr)
}
