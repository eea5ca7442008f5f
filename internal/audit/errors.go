package audit

import "errors"

var (
	// ErrNotFound signals that the requested job, batch or fix does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidURL rejects submissions that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
	// ErrEmptyBatch rejects batch submissions without URLs.
	ErrEmptyBatch = errors.New("batch requires at least one url")
	// ErrInvalidRequest covers other synchronous validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAlreadyTerminal is returned when a terminal job is asked to transition again.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrNotQueued is returned when a job cannot move to running.
	ErrNotQueued = errors.New("job not queued")
	// ErrJobActive rejects deleting a job that is still queued or running.
	ErrJobActive = errors.New("job still queued or running")
	// ErrNotCompleted is returned when a report is requested for an unfinished audit.
	ErrNotCompleted = errors.New("audit not completed")
)
