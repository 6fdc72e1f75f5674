package discovery

import (
	"runtime"
	"strings"
)

// Origin records where a module was found.
type Origin string

const (
	OriginBundled Origin = "bundled"
	OriginSystem  Origin = "system"
)

func (o Origin) String() string { return string(o) }

// Module describes one discovered executable. It is immutable once returned
// from Discover.
type Module struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Origin Origin `json:"origin"`
}

// DefaultPrefixes are the module families recognised out of the box.
var DefaultPrefixes = []string{"aw-server", "aw-watcher"}

// Matcher decides which file names are module candidates.
type Matcher struct {
	Prefixes []string
}

// DefaultMatcher matches the server and watcher families.
func DefaultMatcher() Matcher {
	return Matcher{Prefixes: append([]string(nil), DefaultPrefixes...)}
}

// Match reports whether filename belongs to a recognised module family and
// returns the module name derived from it. On Windows the ".exe" suffix is
// not part of the name.
func (m Matcher) Match(filename string) (string, bool) {
	name := filename
	if runtime.GOOS == "windows" {
		if ext := strings.ToLower(name); strings.HasSuffix(ext, ".exe") {
			name = name[:len(name)-len(".exe")]
		}
	}
	if name == "" {
		return "", false
	}
	for _, p := range m.Prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return name, true
		}
	}
	return "", false
}
