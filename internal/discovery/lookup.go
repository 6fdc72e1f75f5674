package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrExecutableNotFound is returned by FindExecutable when no candidate exists.
var ErrExecutableNotFound = errors.New("executable not found")

// FindExecutable resolves name to an executable file. A name containing a
// path separator is checked as-is; otherwise every directory in dirs is
// probed. Probes run concurrently, and the hit that comes earliest in dirs
// order is returned.
func FindExecutable(ctx context.Context, name string, dirs []string) (string, error) {
	if name == "" {
		return "", ErrExecutableNotFound
	}
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		for _, c := range candidateNames(name) {
			if IsExecutable(c) {
				if abs, err := filepath.Abs(c); err == nil {
					return abs, nil
				}
				return c, nil
			}
		}
		return "", ErrExecutableNotFound
	}

	var candidates []string
	for _, d := range normalizeDirs(dirs) {
		for _, c := range candidateNames(name) {
			candidates = append(candidates, filepath.Join(d, c))
		}
	}
	hits := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits[i] = IsExecutable(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	for i, ok := range hits {
		if ok {
			return candidates[i], nil
		}
	}
	return "", ErrExecutableNotFound
}
