package python

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/fs"
	"github.com/maxdollinger/relocpy/pkg/utils"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

// trampoline replaces the pip shebang. The shell runs the first line, Python
// reads it as a string expression and carries on with the original script.
const trampoline = "#! /bin/sh\n\"exec\" \"$(dirname $(readlink -f ${0}))/%s\" \"$0\" \"$@\"\n"

// writePipTrampoline copies bin/pipX.Y with its shebang replaced, keeping
// the mode, and links pipX and pip to it.
func writePipTrampoline(inst *Installation, dest string) error {
	name := "pip" + inst.Version.Short()
	src := filepath.Join(inst.Prefix, "bin", name)

	f, err := os.Open(src)
	if err != nil {
		return &FatalAssumptionError{Path: src, Assumption: "installation ships pip", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat pip: %w", err)
	}

	reader := bufio.NewReader(f)
	if _, err := reader.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read pip shebang: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read pip: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, trampoline, inst.Binary())
	buf.Write(body)

	binDir := filepath.Join(dest, "bin")
	if err := utils.WriteFileAtomic(filepath.Join(binDir, name), buf.Bytes(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write pip trampoline: %w", err)
	}

	major := fmt.Sprintf("pip%d", inst.Version.Major)
	if err := replaceSymlink(name, filepath.Join(binDir, major)); err != nil {
		return err
	}
	return replaceSymlink(major, filepath.Join(binDir, "pip"))
}

// bundleCertifi copies the certifi package the image CA bundle belongs to.
// opt/_internal/certs.pem must link into .../site-packages/certifi/.
func bundleCertifi(imageDir string, inst *Installation, dest string) error {
	certs := filepath.Join(imageDir, "opt", "_internal", "certs.pem")

	target, err := os.Readlink(certs)
	if err != nil {
		return &FatalAssumptionError{Path: certs, Assumption: "CA bundle is a symlink into certifi", Err: err}
	}

	certifi := filepath.Dir(filepath.Join(imageDir, strings.TrimPrefix(target, "/")))
	if filepath.Base(certifi) != "certifi" {
		return &FatalAssumptionError{Path: certs, Assumption: "CA bundle lives in a certifi package, got " + target}
	}
	sitePackages := filepath.Dir(certifi)
	if filepath.Base(sitePackages) != "site-packages" {
		return &FatalAssumptionError{Path: certs, Assumption: "certifi is installed in site-packages, got " + target}
	}

	matches, err := filepath.Glob(filepath.Join(sitePackages, "certifi*"))
	if err != nil {
		return err
	}
	for _, src := range matches {
		dst := filepath.Join(dest, inst.StdlibDir(), "site-packages", filepath.Base(src))
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := fs.CopyTree(src, dst, nil); err != nil {
			return fmt.Errorf("bundle %s: %w", filepath.Base(src), err)
		}
	}
	return nil
}

// bundleTclTk copies tcl<v> and tk<v> of the newest usr/local/lib/tk<v> into
// usr/share/tcltk and returns v. No Tk directory yields an empty version.
func bundleTclTk(imageDir, dest string) (string, error) {
	libDir := filepath.Join(imageDir, "usr", "local", "lib")

	version, err := newestTk(libDir)
	if err != nil || version == "" {
		return "", err
	}

	tcltk := filepath.Join(dest, "usr", "share", "tcltk")
	for _, tx := range []string{"tcl", "tk"} {
		name := tx + version
		if err := fs.CopyTree(filepath.Join(libDir, name), filepath.Join(tcltk, name), nil); err != nil {
			return "", fmt.Errorf("bundle %s: %w", name, err)
		}
	}
	return version, nil
}

func newestTk(libDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(libDir, "tk*"))
	if err != nil {
		return "", err
	}

	var versions []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if v := strings.TrimPrefix(filepath.Base(m), "tk"); v != "" {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return "", nil
	}

	sort.Slice(versions, func(i, j int) bool {
		return rpmutils.Vercmp(versions[i], versions[j]) < 0
	})
	return versions[len(versions)-1], nil
}
