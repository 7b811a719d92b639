package domain

import "errors"

var (
	// ErrCalendarUnavailable indicates the remote calendar could not be
	// reached after the retry policy was exhausted. A pass aborts before any
	// write when availability cannot be fetched.
	ErrCalendarUnavailable = errors.New("remote calendar unavailable")

	// ErrRemoteOperationFailed marks a single create/update/delete that
	// failed after retries.
	ErrRemoteOperationFailed = errors.New("remote calendar operation failed")

	// ErrMappingCorrupted indicates the persisted schedule mapping failed to
	// load or validate. The pass proceeds as if no prior mapping existed.
	ErrMappingCorrupted = errors.New("schedule mapping corrupted")

	// ErrPlanNotFound is returned when no plan exists for the requested version.
	ErrPlanNotFound = errors.New("plan not found")
)
