package store

import "errors"

// File store error types.
var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
	ErrSizeExceeded = errors.New("file exceeds maximum size")
)
