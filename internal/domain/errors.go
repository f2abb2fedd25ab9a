package domain

import "errors"

var (
	// ErrConflict is returned by the remote when a mutation duplicates state
	// it already holds, such as liking an already liked post.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned by the remote for unknown posts or comments.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated means there is no session, or the remote rejected it.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMutationInFlight is returned when the same action is already pending
	// for the post. The call had no effect.
	ErrMutationInFlight = errors.New("mutation already in flight")

	// ErrEmptyComment rejects blank comment text.
	ErrEmptyComment = errors.New("comment text is empty")
)
