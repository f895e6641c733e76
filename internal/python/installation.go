package python

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/manylinux"
)

// Installation is one Python build shipped in an image.
type Installation struct {
	ABI     string // e.g. cp311-cp311
	Name    string // e.g. cpython-3.11.4
	Impl    manylinux.PythonImpl
	Version manylinux.PythonVersion
	Prefix  string // installation root below the image directory
}

// Binary is the interpreter name, e.g. python3.11 or python3.13t.
func (i *Installation) Binary() string {
	return i.Impl.Executable() + i.Version.Flavoured()
}

// StdlibDir is the standard library directory relative to the prefix.
func (i *Installation) StdlibDir() string {
	return filepath.Join("lib", i.Binary())
}

// Locate resolves opt/python/<abi> of imageDir. The entry must be an
// absolute symlink whose target is named <impl>-<version>. A missing entry
// is a FatalAssumptionError that still matches os.ErrNotExist.
func Locate(imageDir, abi string) (*Installation, error) {
	link := filepath.Join(imageDir, "opt", "python", abi)

	target, err := os.Readlink(link)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FatalAssumptionError{Path: link, Assumption: "image ships python " + abi, Err: err}
		}
		return nil, &FatalAssumptionError{Path: link, Assumption: "python entry is a symlink", Err: err}
	}
	if !filepath.IsAbs(target) {
		return nil, &FatalAssumptionError{Path: link, Assumption: "python symlink is absolute, got " + target}
	}

	name := filepath.Base(target)
	impl, version, err := manylinux.ParseInstallation(name)
	if err != nil {
		return nil, &FatalAssumptionError{Path: link, Assumption: "installation is named <impl>-<version>", Err: err}
	}

	return &Installation{
		ABI:     abi,
		Name:    name,
		Impl:    impl,
		Version: version,
		Prefix:  filepath.Join(imageDir, strings.TrimPrefix(target, "/")),
	}, nil
}

// ListInstallations returns the CPython builds found in opt/python, sorted by
// ABI tag. Entries that are not versioned installations are skipped.
func ListInstallations(imageDir string) ([]*Installation, error) {
	matches, err := filepath.Glob(filepath.Join(imageDir, "opt", "python", "cp*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	installs := make([]*Installation, 0, len(matches))
	for _, m := range matches {
		inst, err := Locate(imageDir, filepath.Base(m))
		if err != nil {
			var fatal *FatalAssumptionError
			if errors.As(err, &fatal) {
				continue
			}
			return nil, err
		}
		installs = append(installs, inst)
	}
	return installs, nil
}
