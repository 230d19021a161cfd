package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, sources and the hub return
// these (optionally wrapped) so callers can branch with errors.Is.
//
//   - ErrNotFound: entity does not exist
//   - ErrUnavailable: backend or service temporarily unavailable
//   - ErrMalformed: external record could not be decoded
//   - ErrClosed: the connection or resource has already been closed
//   - ErrInvalidInput: caller supplied an unusable argument
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrMalformed    = errors.New("malformed")
	ErrClosed       = errors.New("closed")
	ErrInvalidInput = errors.New("invalid input")
)
