package manylinux

import (
	"fmt"
	"strconv"
	"strings"
)

type PythonImpl string

const CPython PythonImpl = "cpython"

// Executable is the name prefix of the interpreter binaries.
func (p PythonImpl) Executable() string {
	return "python"
}

func ParsePythonImpl(s string) (PythonImpl, error) {
	if s == string(CPython) {
		return CPython, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedImpl, s)
}

// PythonVersion is parsed from installation names such as cpython-3.11.4 or
// cpython-3.13.0-nogil. Patch stays a string since pre-releases (0rc1) occur.
type PythonVersion struct {
	Major   int
	Minor   int
	Patch   string
	Flavour string // "", "t", "m" or "mu"
}

var flavours = map[string]string{
	"nogil": "t",
	"ucs2":  "m",
	"ucs4":  "mu",
}

func ParsePythonVersion(s string) (PythonVersion, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return PythonVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return PythonVersion{}, fmt.Errorf("%w: %q: %w", ErrInvalidVersion, s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return PythonVersion{}, fmt.Errorf("%w: %q: %w", ErrInvalidVersion, s, err)
	}

	patch, flavour, found := strings.Cut(parts[2], "-")
	if patch == "" {
		return PythonVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	v := PythonVersion{Major: major, Minor: minor, Patch: patch}
	if found {
		short, ok := flavours[flavour]
		if !ok {
			return PythonVersion{}, fmt.Errorf("%w: %q", ErrUnsupportedFlavour, s)
		}
		v.Flavour = short
	}
	return v, nil
}

// ParseInstallation splits an installation directory name like
// cpython-3.11.4 into implementation and version.
func ParseInstallation(name string) (PythonImpl, PythonVersion, error) {
	head, tail, found := strings.Cut(name, "-")
	if !found {
		return "", PythonVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, name)
	}
	impl, err := ParsePythonImpl(head)
	if err != nil {
		return "", PythonVersion{}, err
	}
	version, err := ParsePythonVersion(tail)
	if err != nil {
		return "", PythonVersion{}, err
	}
	return impl, version, nil
}

func (v PythonVersion) Short() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (v PythonVersion) Long() string {
	return fmt.Sprintf("%d.%d.%s", v.Major, v.Minor, v.Patch)
}

// Flavoured is Short plus the free-threading suffix, which is the only
// flavour that shows up in file names.
func (v PythonVersion) Flavoured() string {
	if v.Flavour == "t" {
		return v.Short() + "t"
	}
	return v.Short()
}

func (v PythonVersion) String() string {
	return v.Long()
}
