package utils

import (
	"fmt"

	"github.com/google/uuid"
)

func NewUUID7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// StagingName returns a unique file name for in-flight downloads, e.g.
// "blob-0190e0a4-....partial". Names sort by creation time.
func StagingName(prefix string) (string, error) {
	id, err := NewUUID7()
	if err != nil {
		return "", fmt.Errorf("generate staging id: %w", err)
	}
	return fmt.Sprintf("%s-%s%s", prefix, id, PartialSuffix), nil
}

// PartialSuffix marks files that are still being written.
const PartialSuffix = ".partial"
