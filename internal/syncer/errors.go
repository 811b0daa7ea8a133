package syncer

import "fmt"

// UserError is the pair surfaced to the user when a sync fails: a short banner
// naming the failing phase and the underlying detail for debugging.
type UserError struct {
	Message string `json:"message"`
	Debug   string `json:"debug"`
}

// userFacing is implemented by every error in the taxonomy.
type userFacing interface {
	UserMessage() UserError
}

// ValidationError blocks the transition out of editing; it never reaches the
// remote provider.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

func (e *ValidationError) UserMessage() UserError {
	return UserError{Message: "Please fix the highlighted fields", Debug: e.Reason}
}

// IdentityResolutionError means the authenticated principal could not be
// resolved; the caller must treat the user as unauthenticated.
type IdentityResolutionError struct {
	Err error
}

func (e *IdentityResolutionError) Error() string {
	return fmt.Sprintf("identity resolution failed: %v", e.Err)
}

func (e *IdentityResolutionError) Unwrap() error { return e.Err }

func (e *IdentityResolutionError) UserMessage() UserError {
	return UserError{Message: "Error fetching user", Debug: e.Err.Error()}
}

// ContainerResolutionError means the destination calendar or group could not
// be found or created; the whole sync is aborted.
type ContainerResolutionError struct {
	Err error
}

func (e *ContainerResolutionError) Error() string {
	return fmt.Sprintf("container resolution failed: %v", e.Err)
}

func (e *ContainerResolutionError) Unwrap() error { return e.Err }

func (e *ContainerResolutionError) UserMessage() UserError {
	return UserError{Message: "Error Getting Calendar", Debug: e.Err.Error()}
}

// StaleEventCleanupError means previously created events could not be
// enumerated or removed; writing is not attempted, or duplicates would result.
type StaleEventCleanupError struct {
	Err error
}

func (e *StaleEventCleanupError) Error() string {
	return fmt.Sprintf("stale event cleanup failed: %v", e.Err)
}

func (e *StaleEventCleanupError) Unwrap() error { return e.Err }

func (e *StaleEventCleanupError) UserMessage() UserError {
	return UserError{Message: "Error removing old events", Debug: e.Err.Error()}
}

// BatchDispatchError means the event-write dispatch failed at a chunk
// boundary. Already-written chunks are not rolled back.
type BatchDispatchError struct {
	Err error
}

func (e *BatchDispatchError) Error() string {
	return fmt.Sprintf("event write dispatch failed: %v", e.Err)
}

func (e *BatchDispatchError) Unwrap() error { return e.Err }

func (e *BatchDispatchError) UserMessage() UserError {
	return UserError{Message: "Error creating event", Debug: e.Err.Error()}
}

// AsUserError maps any error to the {message, debug} pair shown to the user.
// Errors outside the taxonomy get a generic banner.
func AsUserError(err error) UserError {
	if uf, ok := err.(userFacing); ok {
		return uf.UserMessage()
	}
	return UserError{Message: "Something went wrong", Debug: err.Error()}
}
