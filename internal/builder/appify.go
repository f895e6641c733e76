package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/manylinux"
)

// AppifyRequest describes a finished runtime tree.
type AppifyRequest struct {
	Dir     string
	Impl    manylinux.PythonImpl
	Version manylinux.PythonVersion
	ABI     string
	Image   manylinux.ImageTag
}

// Appifier turns a runtime tree into a distributable artifact.
type Appifier interface {
	Appify(ctx context.Context, req AppifyRequest) error
}

// NoOpAppifier leaves the tree as it is.
type NoOpAppifier struct{}

func NewNoOpAppifier() *NoOpAppifier {
	return &NoOpAppifier{}
}

func (NoOpAppifier) Appify(ctx context.Context, req AppifyRequest) error {
	return nil
}

// CommandAppifier runs an external command with the tree as last argument.
// The request metadata is passed as RELOCPY_* environment variables.
type CommandAppifier struct {
	command []string
	logger  *slog.Logger
}

func NewCommandAppifier(command ...string) *CommandAppifier {
	return &CommandAppifier{
		command: command,
		logger:  slog.Default(),
	}
}

func (a *CommandAppifier) Appify(ctx context.Context, req AppifyRequest) error {
	if len(a.command) == 0 {
		return fmt.Errorf("appify: no command configured")
	}

	args := append(append([]string(nil), a.command[1:]...), req.Dir)
	cmd := exec.CommandContext(ctx, a.command[0], args...)
	cmd.Env = append(os.Environ(), appifyEnv(req)...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	a.logger.InfoContext(ctx, "running appifier", "command", strings.Join(a.command, " "), "dir", req.Dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("appify %s: %w: %s", req.Dir, err, strings.TrimSpace(output.String()))
	}
	a.logger.DebugContext(ctx, "appifier output", "output", output.String())
	return nil
}

func appifyEnv(req AppifyRequest) []string {
	return []string{
		"RELOCPY_DIR=" + req.Dir,
		"RELOCPY_PYTHON_IMPL=" + string(req.Impl),
		"RELOCPY_PYTHON_VERSION=" + req.Version.Long(),
		"RELOCPY_PYTHON_SHORT=" + req.Version.Flavoured(),
		"RELOCPY_PYTHON_ABI=" + req.ABI,
		"RELOCPY_IMAGE=" + req.Image.String(),
		"RELOCPY_ARCH=" + string(req.Image.Arch),
	}
}
