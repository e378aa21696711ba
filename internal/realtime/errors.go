package realtime

import "errors"

var (
	// ErrMalformedPayload means an inbound event is missing fields the
	// fan-out depends on. The event is dropped; nothing is broadcast.
	ErrMalformedPayload = errors.New("realtime: malformed payload")

	// ErrNotChatMember means a join-chat was denied by the membership check.
	ErrNotChatMember = errors.New("realtime: not a chat member")
)
