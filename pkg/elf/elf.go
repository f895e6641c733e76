// Package elf reads the dynamic section of ELF files and edits their RPATH.
//
// Two DependencyReader backends exist: Readelf shells out to binutils and
// parses its dump, Native reads the file with debug/elf. Both report the
// NEEDED entries as declared, without resolving them to paths.
package elf

import "context"

// DependencyReader lists the shared libraries a file directly requires.
type DependencyReader interface {
	Dependencies(ctx context.Context, path string) ([]string, error)
}

// RPathEditor reads and rewrites the RPATH of a file.
type RPathEditor interface {
	RPath(ctx context.Context, path string) (string, error)
	SetRPath(ctx context.Context, path, rpath string) error
}

// dedup keeps the first occurrence of every name.
func dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
