package checkpoint

import "github.com/pkg/errors"

// Common errors.
var (
	ErrNotFound       = errors.New("checkpoint not found")
	ErrArchitecture   = errors.New("checkpoint does not match model architecture")
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
	ErrUnsupported    = errors.New("unsupported tensor dtype")
	ErrCorrupt        = errors.New("corrupt tensor data")
)
