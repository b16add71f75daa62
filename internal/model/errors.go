package model

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAttemptExists is returned when an attempt for the same
	// (assessment, student) pair already exists.
	ErrAttemptExists = errors.New("attempt already exists")

	// ErrAttemptFinalized is returned when an answer or finalize write
	// targets an attempt that is no longer in progress.
	ErrAttemptFinalized = errors.New("attempt already finalized")

	// ErrAttemptNotCompleted is returned when grading targets an attempt
	// that is still in progress.
	ErrAttemptNotCompleted = errors.New("attempt not completed")

	// ErrScoresConflict is returned when manual scores keep changing while
	// an attempt is being scored.
	ErrScoresConflict = errors.New("scores changed while scoring")
)
