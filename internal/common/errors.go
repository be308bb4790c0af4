package common

import "errors"

var (
	// Registry-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Upload session errors. ErrSessionExpired is only used internally;
	// callers observe it exactly like ErrSessionNotFound.
	ErrSessionNotFound      = errors.New("upload session invalid, restart the upload")
	ErrSessionExpired       = errors.New("upload session expired")
	ErrInvalidState         = errors.New("upload session is not awaiting parts")
	ErrCompletionInProgress = errors.New("upload completion already in progress")

	// Completion errors.
	ErrPartCountMismatch = errors.New("completion token count does not match total chunks")

	// Object store errors.
	ErrStoreInitiation = errors.New("object store initiation failed")
	ErrStoreCompletion = errors.New("object store completion failed")

	// Request validation.
	ErrInvalidRequest = errors.New("invalid request")

	// Auth errors (missing, malformed or foreign token).
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
)

// ReasonCode is the machine-readable failure reason reported at the service
// boundary.
type ReasonCode string

const (
	ReasonOK                   ReasonCode = "OK"
	ReasonSessionNotFound      ReasonCode = "SESSION_NOT_FOUND"
	ReasonPartCountMismatch    ReasonCode = "PART_COUNT_MISMATCH"
	ReasonStoreInitiation      ReasonCode = "STORE_INITIATION_FAILURE"
	ReasonStoreCompletion      ReasonCode = "STORE_COMPLETION_FAILURE"
	ReasonInvalidRequest       ReasonCode = "INVALID_REQUEST"
	ReasonInvalidState         ReasonCode = "INVALID_STATE"
	ReasonCompletionInProgress ReasonCode = "COMPLETION_IN_PROGRESS"
	ReasonUnauthorized         ReasonCode = "UNAUTHORIZED"
	ReasonInternal             ReasonCode = "INTERNAL"
)

// ReasonOf classifies err. Expired sessions are reported as not found.
func ReasonOf(err error) ReasonCode {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrorNotFound):
		return ReasonSessionNotFound
	case errors.Is(err, ErrPartCountMismatch):
		return ReasonPartCountMismatch
	case errors.Is(err, ErrStoreInitiation):
		return ReasonStoreInitiation
	case errors.Is(err, ErrStoreCompletion):
		return ReasonStoreCompletion
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrInvalidState):
		return ReasonInvalidState
	case errors.Is(err, ErrCompletionInProgress):
		return ReasonCompletionInProgress
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return ReasonUnauthorized
	default:
		return ReasonInternal
	}
}
