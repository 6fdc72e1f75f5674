package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceCollector reports CPU and memory of running modules at scrape time.
// It only observes; no limits are applied.
type ResourceCollector struct {
	running func() map[string]int32 // module name -> pid

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
}

// NewResourceCollector builds a collector over the pids returned by running.
func NewResourceCollector(running func() map[string]int32) *ResourceCollector {
	labels := []string{"name"}
	return &ResourceCollector{
		running: running,
		cpu: prometheus.NewDesc("modvisr_module_cpu_percent",
			"CPU usage of the module process since it started.", labels, nil),
		rss: prometheus.NewDesc("modvisr_module_memory_rss_bytes",
			"Resident set size of the module process.", labels, nil),
		threads: prometheus.NewDesc("modvisr_module_threads",
			"Thread count of the module process.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

// Collect implements prometheus.Collector.
func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.running == nil {
		return
	}
	for name, pid := range c.running() {
		u, err := Sample(pid)
		if err != nil {
			slog.Debug("resource sample failed", "module", name, "pid", pid, "err", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, u.CPUPercent, name)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(u.RSS), name)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(u.Threads), name)
	}
}

// Usage is a point-in-time resource reading for one process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// Sample reads resource usage for pid.
func Sample(pid int32) (Usage, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{RSS: mem.RSS}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}
