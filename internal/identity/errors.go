package identity

import "errors"

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrNotAMember         = errors.New("identity: not a member")
	ErrAlreadyInitialized = errors.New("identity: already initialized")
)
