package relocate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/network"
)

// DefaultExcludeListURL is the AppImage list of libraries expected on every
// host system.
const DefaultExcludeListURL = "https://raw.githubusercontent.com/probonopd/AppImages/master/excludelist"

// ExcludeList holds library names that are never bundled.
type ExcludeList struct {
	names map[string]struct{}
}

// NewExcludeList builds a list from literal names.
func NewExcludeList(names ...string) *ExcludeList {
	l := &ExcludeList{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		l.names[n] = struct{}{}
	}
	return l
}

// ParseExcludeList reads one library per line. Blank lines and lines starting
// with # are ignored, as is anything after the first field.
func ParseExcludeList(r io.Reader) (*ExcludeList, error) {
	l := NewExcludeList()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.names[strings.Fields(line)[0]] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclude list: %w", err)
	}
	return l, nil
}

// LoadExcludeList parses the list at path, downloading it from url first
// when it is not there yet.
func LoadExcludeList(ctx context.Context, client *http.Client, url, path string) (*ExcludeList, error) {
	if url != "" {
		if _, err := network.FetchOnce(ctx, client, url, path); err != nil {
			return nil, fmt.Errorf("fetch exclude list: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclude list: %w", err)
	}
	defer f.Close()

	return ParseExcludeList(f)
}

func (l *ExcludeList) Contains(name string) bool {
	if l == nil {
		return false
	}
	_, ok := l.names[name]
	return ok
}

func (l *ExcludeList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}

// Names returns the excluded libraries sorted.
func (l *ExcludeList) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.names))
	for n := range l.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
