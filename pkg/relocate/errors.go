package relocate

import (
	"errors"
	"fmt"
	"strings"
)

var ErrLibraryNotFound = errors.New("library not found")

// DependencyResolutionError is returned when a required library exists in
// none of the search directories. It always aborts the relocation.
type DependencyResolutionError struct {
	Library    string
	RequiredBy string
	SearchPath []string
}

func (e *DependencyResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s", e.Library)
	if e.RequiredBy != "" {
		msg += " (required by " + e.RequiredBy + ")"
	}
	return fmt.Sprintf("%s: %v in [%s]", msg, ErrLibraryNotFound, strings.Join(e.SearchPath, ", "))
}

func (e *DependencyResolutionError) Unwrap() error {
	return ErrLibraryNotFound
}
