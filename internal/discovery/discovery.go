package discovery

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/modvisr/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of search-path directories scanned at once.
const DefaultConcurrency = 8

// maxDescent limits how deep matching directories on the search path are
// followed; symlinked directories could otherwise loop.
const maxDescent = 16

// Options configures one discovery pass.
type Options struct {
	BundledRoot string       // scanned recursively; empty skips the bundled scan
	SearchPath  []string     // directories in precedence order
	Matcher     Matcher      // zero value uses DefaultMatcher
	Concurrency int          // concurrent directory scans (default 8)
	Logger      *slog.Logger // defaults to slog.Default()
}

func (o Options) withDefaults() Options {
	if len(o.Matcher.Prefixes) == 0 {
		o.Matcher = DefaultMatcher()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Discover scans the bundled tree and the search path and returns bundled
// modules followed by system modules. System modules are deduplicated by
// name: the earliest search-path directory wins regardless of which scan
// finishes first. Missing directories contribute nothing; other listing
// errors are logged and the directory contributes nothing. Only context
// cancellation is returned as an error.
func Discover(ctx context.Context, opts Options) ([]Module, error) {
	opts = opts.withDefaults()
	begin := time.Now()

	bundled, err := scanBundled(ctx, opts)
	if err != nil {
		return nil, err
	}
	system, err := scanSearchPath(ctx, opts)
	if err != nil {
		return nil, err
	}

	metrics.SetDiscovered(string(OriginBundled), len(bundled))
	metrics.SetDiscovered(string(OriginSystem), len(system))
	metrics.ObserveDiscoveryDuration(time.Since(begin).Seconds())

	out := make([]Module, 0, len(bundled)+len(system))
	out = append(out, bundled...)
	out = append(out, system...)
	opts.Logger.Info("module discovery finished",
		"bundled", len(bundled), "system", len(system), "elapsed", time.Since(begin))
	return out, nil
}

func scanBundled(ctx context.Context, opts Options) ([]Module, error) {
	if opts.BundledRoot == "" {
		return nil, nil
	}
	root, err := filepath.Abs(opts.BundledRoot)
	if err != nil {
		root = opts.BundledRoot
	}
	log := opts.Logger.With("origin", OriginBundled)

	var mods []Module
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				log.Debug("bundled module directory does not exist", "dir", root)
				return nil
			}
			log.Warn("cannot scan directory", "dir", path, "err", err)
			metrics.IncDirError(string(OriginBundled))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name, ok := opts.Matcher.Match(d.Name())
		if !ok {
			return nil
		}
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		if !IsExecutable(path) {
			log.Debug("skipping non-executable candidate", "path", path)
			return nil
		}
		mods = append(mods, Module{Name: name, Path: path, Origin: OriginBundled})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return mods, nil
}

func scanSearchPath(ctx context.Context, opts Options) ([]Module, error) {
	dirs := normalizeDirs(opts.SearchPath)
	if len(dirs) == 0 {
		return nil, nil
	}
	log := opts.Logger.With("origin", OriginSystem)

	// One slot per directory so the merge below follows search-path order.
	results := make([][]Module, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			mods, err := scanSystemDir(gctx, opts.Matcher, dir, 0)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				log.Warn("cannot scan directory", "dir", dir, "err", err)
				metrics.IncDirError(string(OriginSystem))
				return nil
			}
			results[i] = mods
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var out []Module
	for _, mods := range results {
		for _, m := range mods {
			if first, dup := seen[m.Name]; dup {
				log.Debug("ignoring shadowed system module", "module", m.Name, "path", m.Path, "shadowed_by", first)
				continue
			}
			seen[m.Name] = m.Path
			out = append(out, m)
		}
	}
	return out, nil
}

// scanSystemDir lists one search-path directory. Matching files must be
// executable; matching directories are descended into with the same rule.
func scanSystemDir(ctx context.Context, matcher Matcher, dir string, depth int) ([]Module, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var mods []Module
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := matcher.Match(e.Name())
		if !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		switch {
		case fi.IsDir():
			if depth >= maxDescent {
				continue
			}
			sub, err := scanSystemDir(ctx, matcher, p, depth+1)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			mods = append(mods, sub...)
		case fi.Mode().IsRegular() && IsExecutable(p):
			mods = append(mods, Module{Name: name, Path: p, Origin: OriginSystem})
		}
	}
	return mods, nil
}

// normalizeDirs makes entries absolute and drops blanks and repeats while
// keeping first-seen order.
func normalizeDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		d = filepath.Clean(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// SplitSearchPath splits a PATH-style list using the platform separator.
func SplitSearchPath(list string) []string {
	return normalizeDirs(filepath.SplitList(list))
}

// SearchPathFromEnv returns the directories of the inherited PATH.
func SearchPathFromEnv() []string {
	return SplitSearchPath(os.Getenv("PATH"))
}
