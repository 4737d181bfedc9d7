package templock

import "errors"

var (
	// ErrConfiguration reports a malformed strategy definition.
	ErrConfiguration = errors.New("invalid lockout configuration")
	// ErrStorage wraps every failure returned by the bound storage backend.
	ErrStorage = errors.New("lockout storage failure")
	// ErrNotConfigured is returned by engine operations invoked before a
	// storage backend is bound.
	ErrNotConfigured = errors.New("lockout engine has no storage backend")
	// ErrInvalidItem is returned for an empty item identifier.
	ErrInvalidItem = errors.New("invalid item identifier")
	// ErrListener wraps failures of lock listeners. The lock they were
	// notified about is already committed.
	ErrListener = errors.New("lock listener failed")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
)
