package elf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var neededPattern = regexp.MustCompile(`[(]NEEDED[)]\s+Shared library:\s+\[([^\]]+)\]`)

const (
	dynamicSectionHeader = "Dynamic section at offset"
	noDynamicSection     = "There is no dynamic section in this file"
)

// Readelf reads NEEDED entries from the output of `readelf -d`.
type Readelf struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewReadelf uses binary, or readelf from PATH when empty.
func NewReadelf(binary string, timeout time.Duration) (*Readelf, error) {
	if binary == "" {
		path, err := lookTool("readelf")
		if err != nil {
			return nil, err
		}
		binary = path
	}
	return &Readelf{
		binary:  binary,
		timeout: timeout,
		logger:  slog.Default(),
	}, nil
}

func (r *Readelf) Dependencies(ctx context.Context, path string) ([]string, error) {
	out, err := runTool(ctx, r.timeout, r.binary, "-d", path)
	if err != nil {
		return nil, err
	}
	needed, err := ParseNeeded(out)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = path
		}
		return nil, err
	}
	r.logger.DebugContext(ctx, "read dependencies", "path", path, "needed", needed)
	return needed, nil
}

// ParseNeeded extracts NEEDED library names from a `readelf -d` dump.
// Output that is neither a dynamic section dump nor the notice that there is
// none, or a NEEDED line that does not match, is a ParseError.
func ParseNeeded(out []byte) ([]string, error) {
	text := string(out)
	if strings.Contains(text, noDynamicSection) {
		return nil, nil
	}
	if !strings.Contains(text, dynamicSectionHeader) {
		return nil, &ParseError{Detail: "unrecognized readelf output: " + firstLine(text)}
	}

	var needed []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "(NEEDED)") {
			continue
		}
		match := neededPattern.FindStringSubmatch(line)
		if match == nil {
			return nil, &ParseError{Detail: "unparseable NEEDED entry: " + strings.TrimSpace(line)}
		}
		needed = append(needed, match[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Detail: "read readelf output", Err: err}
	}
	return dedup(needed), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
