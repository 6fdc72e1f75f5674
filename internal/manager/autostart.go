package manager

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Phase identifies the autostart batch a module was started in.
type Phase string

const (
	PhaseServer  Phase = "server"
	PhaseClients Phase = "clients"
)

// StartResult is the outcome of starting one module during Autostart.
type StartResult struct {
	Name  string `json:"name"`
	Phase Phase  `json:"phase"`
	Err   error  `json:"-"`
}

// ParseModuleList splits the comma separated --autostart-modules form.
func ParseModuleList(s string) []string {
	return normalizeNames(strings.Split(s, ","))
}

// IsServer reports whether name belongs to the first autostart phase.
func IsServer(name, marker string) bool {
	return strings.Contains(name, marker)
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Autostart starts the requested modules in two phases: names containing
// the server marker first, then the rest. Members of a phase start
// concurrently and all of them settle before the next phase begins. A
// module that cannot be started is logged and does not stop the batch.
func (m *Manager) Autostart(ctx context.Context, names []string) []StartResult {
	names = normalizeNames(names)
	if len(names) == 0 {
		m.log.Info("no modules requested for autostart")
		return nil
	}

	var servers, clients []string
	for _, n := range names {
		if IsServer(n, m.opts.ServerMarker) {
			servers = append(servers, n)
		} else {
			clients = append(clients, n)
		}
	}

	results := make([]StartResult, 0, len(names))
	results = append(results, m.startPhase(ctx, PhaseServer, servers)...)
	results = append(results, m.startPhase(ctx, PhaseClients, clients)...)
	return results
}

func (m *Manager) startPhase(ctx context.Context, phase Phase, names []string) []StartResult {
	results := make([]StartResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		results[i] = StartResult{Name: name, Phase: phase}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Err = m.Start(name)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		if r.Err != nil {
			m.log.Error("module could not be started", "module", r.Name, "phase", string(r.Phase), "error", r.Err)
		}
	}
	return results
}
