package domain

import "errors"

// Error kinds shared by services, repositories and the HTTP layer.
// Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrInvalidInput marks malformed or missing request data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing record, user, room or image path.
	ErrNotFound = errors.New("not found")

	// ErrDependency marks a failure inside an embedding backend or store.
	ErrDependency = errors.New("dependency failure")

	// ErrAlreadyExists marks a unique-key conflict.
	ErrAlreadyExists = errors.New("already exists")
)
