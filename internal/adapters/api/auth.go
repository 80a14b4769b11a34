package api

import (
	"net/http"
	"strings"

	"annotcore/internal/core"
)

// Authenticator resolves the identity making an HTTP request. An empty
// identity means the request is anonymous; anonymous requests can still read
// world-readable annotations and search.
type Authenticator interface {
	Identify(r *http.Request) core.Identity
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway that
// has already verified the caller's token.
type HeaderAuthenticator struct {
	// UserHeader carries the authenticated user ID. Defaults to X-Annotator-User.
	UserHeader string
	// ConsumerHeader carries the API consumer key. Defaults to X-Annotator-Consumer.
	ConsumerHeader string
}

// Identify reads the identity headers from the request.
func (a HeaderAuthenticator) Identify(r *http.Request) core.Identity {
	userHeader := a.UserHeader
	if userHeader == "" {
		userHeader = "X-Annotator-User"
	}
	consumerHeader := a.ConsumerHeader
	if consumerHeader == "" {
		consumerHeader = "X-Annotator-Consumer"
	}
	return core.Identity{
		User:     strings.TrimSpace(r.Header.Get(userHeader)),
		Consumer: strings.TrimSpace(r.Header.Get(consumerHeader)),
	}
}
