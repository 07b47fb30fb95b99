package core

import "errors"

var (
	// ErrGenerationUnavailable means the generation backend produced no reply:
	// network failure, non-success status, malformed response or timeout.
	ErrGenerationUnavailable = errors.New("generation backend unavailable")
)
