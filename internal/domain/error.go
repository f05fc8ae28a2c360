package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrQueueFull        = errors.New("job queue is full")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthorized     = errors.New("authentication required")
	ErrPermissionDenied = errors.New("permission denied")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotCompleted     = errors.New("job has not completed")
	ErrAlreadyTerminal  = errors.New("job already in a terminal state")

	// Database errors
	ErrInvalidExecContext = errors.New("invalid query execution context")
)
