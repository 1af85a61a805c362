package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Training and dataset failures
var (
	ErrTrainingFailed = errors.New("training failed")
	ErrEmptyDataset   = errors.New("empty dataset")
)

// Worker and supervisor lifecycle
var (
	ErrOverloaded        = errors.New("worker overloaded")
	ErrShuttingDown      = errors.New("worker shutting down")
	ErrNotStarted        = errors.New("supervisor not started")
	ErrAlreadyStarted    = errors.New("supervisor already started")
	ErrClosed            = errors.New("supervisor closed")
	ErrWorkerCrashed     = errors.New("worker crashed")
	ErrWorkerStopped     = errors.New("worker stopped")
	ErrRestartsExhausted = errors.New("worker restarts exhausted")
	ErrUnknownMessage    = errors.New("unknown message")
)
