package forum

import "errors"

// Handlers map these to HTTP statuses with errors.Is. The error text is
// what the client sees.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("Unauthorized")
	ErrPostNotFound    = errors.New("Post not found")
	ErrCommentNotFound = errors.New("Comment not found")
)

// forumError carries a client-facing message while still matching its kind.
type forumError struct {
	kind error
	msg  string
}

func (e *forumError) Error() string { return e.msg }
func (e *forumError) Unwrap() error { return e.kind }

func failure(kind error, msg string) error {
	return &forumError{kind: kind, msg: msg}
}

func invalid(msg string) error {
	return failure(ErrInvalidInput, msg)
}
