package mudis

import "errors"

// Caller errors: invalid configuration, a missing required argument, a
// call made after Close, or a snapshot whose codec strategy does not
// match the live configuration. These are returned eagerly and never
// leave the cache in a partially mutated state.
var (
	ErrInvalidConfig    = errors.New("mudis: invalid configuration")
	ErrMissingNamespace = errors.New("mudis: namespace is required")
	ErrInvalidNamespace = errors.New("mudis: namespace must not contain ':'")
	ErrClosed           = errors.New("mudis: cache is closed")
	ErrCodecMismatch    = errors.New("mudis: snapshot serializer does not match configured codec")
)
