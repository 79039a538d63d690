package patch

import "errors"

var (
	// ErrPatchTargetNotContainer is returned when a path descends into or
	// modifies a value that is neither an object nor an array.
	ErrPatchTargetNotContainer = errors.New("patch target is not a container")
	// ErrPathNotFound is returned when a key along a path does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrIndexOutOfRange is returned for array indexes outside the array.
	ErrIndexOutOfRange = errors.New("array index out of range")
	// ErrTestFailed is returned when a test operation does not match.
	ErrTestFailed = errors.New("test failed")
	// ErrInvalidPointer is returned for malformed JSON pointers.
	ErrInvalidPointer = errors.New("invalid json pointer")
	// ErrInvalidPatch is returned for malformed patch documents.
	ErrInvalidPatch = errors.New("invalid patch")
)
