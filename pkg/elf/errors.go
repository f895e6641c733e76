package elf

import (
	"errors"
	"fmt"
)

var (
	ErrToolFailed   = errors.New("tool failed")
	ErrToolNotFound = errors.New("tool not found in PATH")
)

// ParseError is returned when the dynamic section of a file cannot be read or
// the output of an inspection tool is not understood.
type ParseError struct {
	Path   string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse elf %s: %s: %v", e.Path, e.Detail, e.Err)
	}
	return fmt.Sprintf("parse elf %s: %s", e.Path, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
