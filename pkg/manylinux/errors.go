package manylinux

import "errors"

var (
	ErrUnknownArch     = errors.New("unknown architecture")
	ErrUnknownTag      = errors.New("unknown manylinux tag")
	ErrInvalidImageTag = errors.New("invalid image tag")

	// Python version errors
	ErrInvalidVersion     = errors.New("invalid python version")
	ErrUnsupportedFlavour = errors.New("unsupported python build flavour")
	ErrUnsupportedImpl    = errors.New("unsupported python implementation")
)
