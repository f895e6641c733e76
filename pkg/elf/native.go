package elf

import (
	"context"
	"debug/elf"
)

// Native reads NEEDED entries with debug/elf, no external tool required.
type Native struct{}

func NewNative() *Native {
	return &Native{}
}

func (n *Native) Dependencies(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Detail: "open", Err: err}
	}
	defer f.Close()

	if f.Section(".dynamic") == nil {
		return nil, nil
	}

	needed, err := f.ImportedLibraries()
	if err != nil {
		return nil, &ParseError{Path: path, Detail: "read dynamic section", Err: err}
	}
	return dedup(needed), nil
}
