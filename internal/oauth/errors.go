package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AuthError.
type Kind int

const (
	// TokenRequestFailed means the token endpoint answered with a non-2xx
	// status or with a document that is not a token.
	TokenRequestFailed Kind = iota + 1
	// NoCredentials means user scope was requested with neither a refresh
	// token nor a cached session for the user.
	NoCredentials
	// TransportFailed means the token endpoint could not be reached or did
	// not answer within the timeout.
	TransportFailed
)

func (k Kind) String() string {
	switch k {
	case TokenRequestFailed:
		return "token request failed"
	case NoCredentials:
		return "no credentials"
	case TransportFailed:
		return "transport failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for use with errors.Is.
var (
	ErrTokenRequestFailed = errors.New("token request failed")
	ErrNoCredentials      = errors.New("no credentials for user scope")
	ErrTransportFailed    = errors.New("token endpoint unreachable")
)

// AuthError reports a failure to obtain a token. Body holds the token
// endpoint's response body when there was one; it never contains request
// credentials.
type AuthError struct {
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrTokenRequestFailed:
		return e.Kind == TokenRequestFailed
	case ErrNoCredentials:
		return e.Kind == NoCredentials
	case ErrTransportFailed:
		return e.Kind == TransportFailed
	}
	return false
}

// ResponseStatus maps the error to the response a caller of this service
// should see.
func (e *AuthError) ResponseStatus() (int, string) {
	switch e.Kind {
	case NoCredentials:
		return http.StatusUnauthorized, "user authorization required"
	case TransportFailed:
		return http.StatusGatewayTimeout, "token endpoint unavailable"
	default:
		return http.StatusBadGateway, "token request rejected"
	}
}
