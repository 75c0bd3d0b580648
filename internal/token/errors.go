package token

import "errors"

var (
	// ErrInvalidToken indicates a malformed or badly signed access token.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrExpired indicates an access token past its expiry.
	ErrExpired = errors.New("token: expired")
	// ErrNoRefresh indicates a missing, unknown or expired refresh token.
	ErrNoRefresh = errors.New("token: no refresh token")
	// ErrRecordNotFound is returned by stores when no record has the given
	// id. Storage faults are returned as themselves, never as this sentinel,
	// so an outage cannot masquerade as a dead session.
	ErrRecordNotFound = errors.New("token: record not found")
	// ErrTokenReuse indicates a replayed refresh token. Detection revokes the
	// whole family before this error is returned.
	ErrTokenReuse = errors.New("token: refresh token reuse detected")
)
