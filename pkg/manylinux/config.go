// Package manylinux names the build-platform images this tool consumes and the
// Python installations found inside them.
//
// An image is identified by a platform tag and an architecture. Its string
// form is the registry image name, e.g. manylinux2014_x86_64 or
// manylinux_2_28_aarch64.
package manylinux

import (
	"fmt"
	"runtime"
	"strings"
)

type Arch string

const (
	ArchAarch64 Arch = "aarch64"
	ArchI686    Arch = "i686"
	ArchX86_64  Arch = "x86_64"
)

var arches = []Arch{ArchAarch64, ArchI686, ArchX86_64}

func ParseArch(s string) (Arch, error) {
	for _, a := range arches {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArch, s)
}

// HostArch maps the Go runtime architecture of the running process.
func HostArch() (Arch, error) {
	return archFromGOARCH(runtime.GOARCH)
}

func archFromGOARCH(goarch string) (Arch, error) {
	switch goarch {
	case "amd64":
		return ArchX86_64, nil
	case "arm64":
		return ArchAarch64, nil
	case "386":
		return ArchI686, nil
	}
	return "", fmt.Errorf("%w: host %q", ErrUnknownArch, goarch)
}

// LibDir is the system library directory of the image for this architecture.
func (a Arch) LibDir() string {
	if a == ArchI686 {
		return "lib"
	}
	return "lib64"
}

type LinuxTag string

const (
	Manylinux1     LinuxTag = "manylinux1"
	Manylinux2010  LinuxTag = "manylinux2010"
	Manylinux2014  LinuxTag = "manylinux2014"
	Manylinux_2_24 LinuxTag = "manylinux_2_24"
	Manylinux_2_28 LinuxTag = "manylinux_2_28"
)

var linuxTags = []LinuxTag{Manylinux1, Manylinux2010, Manylinux2014, Manylinux_2_24, Manylinux_2_28}

func ParseLinuxTag(s string) (LinuxTag, error) {
	for _, t := range linuxTags {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// ParseBriefLinuxTag accepts the short form used on the command line:
// "2014" for manylinux2014 and "2_28" for manylinux_2_28.
func ParseBriefLinuxTag(s string) (LinuxTag, error) {
	if strings.HasPrefix(s, "2_") {
		return ParseLinuxTag("manylinux_" + s)
	}
	return ParseLinuxTag("manylinux" + s)
}

// Brief is the inverse of ParseBriefLinuxTag.
func (t LinuxTag) Brief() string {
	s := strings.TrimPrefix(string(t), "manylinux")
	return strings.TrimPrefix(s, "_")
}

// ImageTag identifies one registry repository.
type ImageTag struct {
	Tag  LinuxTag
	Arch Arch
}

func (i ImageTag) String() string {
	return string(i.Tag) + "_" + string(i.Arch)
}

// Brief is the short form, e.g. 2014_x86_64.
func (i ImageTag) Brief() string {
	return i.Tag.Brief() + "_" + string(i.Arch)
}

// ParseImageTag accepts a full image name (manylinux2014_x86_64) or the brief
// form (2014_x86_64, 2_28_aarch64).
func ParseImageTag(s string) (ImageTag, error) {
	for _, a := range arches {
		suffix := "_" + string(a)
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		head := strings.TrimSuffix(s, suffix)

		var (
			tag LinuxTag
			err error
		)
		if strings.HasPrefix(head, "manylinux") {
			tag, err = ParseLinuxTag(head)
		} else {
			tag, err = ParseBriefLinuxTag(head)
		}
		if err != nil {
			return ImageTag{}, fmt.Errorf("%w %q: %w", ErrInvalidImageTag, s, err)
		}
		return ImageTag{Tag: tag, Arch: a}, nil
	}
	return ImageTag{}, fmt.Errorf("%w %q: %w", ErrInvalidImageTag, s, ErrUnknownArch)
}
