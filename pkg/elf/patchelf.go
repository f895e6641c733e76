package elf

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Patchelf edits RPATHs with the patchelf tool.
type Patchelf struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPatchelf uses binary, or patchelf from PATH when empty.
func NewPatchelf(binary string, timeout time.Duration) (*Patchelf, error) {
	if binary == "" {
		path, err := lookTool("patchelf")
		if err != nil {
			return nil, err
		}
		binary = path
	}
	return &Patchelf{
		binary:  binary,
		timeout: timeout,
		logger:  slog.Default(),
	}, nil
}

func (p *Patchelf) RPath(ctx context.Context, path string) (string, error) {
	out, err := runTool(ctx, p.timeout, p.binary, "--print-rpath", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Patchelf) SetRPath(ctx context.Context, path, rpath string) error {
	p.logger.DebugContext(ctx, "setting rpath", "path", path, "rpath", rpath)
	_, err := runTool(ctx, p.timeout, p.binary, "--set-rpath", rpath, path)
	return err
}
