package auth

import "errors"

var (
	// ErrInvalidChallenge indicates an issue with the received challenge in the WWW-Authenticate header.
	ErrInvalidChallenge = errors.New("invalid challenge header")
	// ErrNoNewChallenge indicates a challenge update did not result in any change.
	ErrNoNewChallenge = errors.New("no new challenge")
	// ErrParseFailure indicates the WWW-Authenticate header could not be parsed.
	ErrParseFailure = errors.New("parse failure")
	// ErrUnauthorized indicates the request was not authorized.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnsupported indicates the response was not a 401.
	ErrUnsupported = errors.New("unsupported")
	// ErrEmptyChallenge indicates a 401 arrived with no WWW-Authenticate header.
	ErrEmptyChallenge = errors.New("empty challenge")
)
