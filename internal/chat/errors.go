package chat

import "errors"

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrUserExists means a user with that name is already registered.
	ErrUserExists = errors.New("chat: user already exists")

	// ErrInvalidInput means a required field was empty or out of bounds.
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrSameUser means a direct chat was requested between a user and themselves.
	ErrSameUser = errors.New("chat: direct chat requires two distinct users")
)
