package keystore

import "errors"

// Key table error types.
var (
	ErrUnauthorized = errors.New("invalid or exhausted upload key")
	ErrKeyExists    = errors.New("upload key already exists")
	ErrKeyNotFound  = errors.New("upload key not found")
)
