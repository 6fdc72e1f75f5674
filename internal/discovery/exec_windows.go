//go:build windows

package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

var executableExts = []string{".exe", ".com", ".bat", ".cmd"}

// IsExecutable reports whether path is a regular file with an executable extension.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range executableExts {
		if ext == e {
			return true
		}
	}
	return false
}

// candidateNames lists the file names probed when looking up name.
func candidateNames(name string) []string {
	if filepath.Ext(name) != "" {
		return []string{name}
	}
	out := make([]string, 0, len(executableExts))
	for _, e := range executableExts {
		out = append(out, name+e)
	}
	return out
}
