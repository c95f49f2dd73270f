package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates malformed or missing caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// UserSafeMessage returns an error message suitable for API consumers.
// Unrecognised errors collapse to a generic message so storage details
// never leak to the client.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested resource was not found."
	case errors.Is(err, ErrInvalidInput):
		return "The request is missing required information."
	default:
		return "Something went wrong. Please try again."
	}
}
