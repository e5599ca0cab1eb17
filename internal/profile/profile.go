// Package profile collects per-phase wall times for a simulation unit and
// renders them as a ranked report.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler accumulates named phase timings. Zero value is a disabled
// profiler; all methods are cheap no-ops until Enable.
type Profiler struct {
	enabled bool
	total   map[string]time.Duration
	calls   map[string]int
	order   []string
}

// Enable turns collection on.
func (p *Profiler) Enable() {
	p.enabled = true
	if p.total == nil {
		p.total = make(map[string]time.Duration)
		p.calls = make(map[string]int)
	}
}

// Enabled reports whether the profiler collects timings.
func (p *Profiler) Enabled() bool { return p.enabled }

// Track starts timing the named phase and returns the stop function.
// Intended for defer: `defer prof.Track("setup")()`.
func (p *Profiler) Track(name string) func() {
	if !p.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		if _, seen := p.total[name]; !seen {
			p.order = append(p.order, name)
		}
		p.total[name] += time.Since(start)
		p.calls[name]++
	}
}

// Report renders up to limit entries ranked by cumulative time, longest
// first.
func (p *Profiler) Report(limit int) string {
	names := append([]string{}, p.order...)
	sort.SliceStable(names, func(i, j int) bool {
		return p.total[names[i]] > p.total[names[j]]
	})
	if len(names) > limit {
		names = names[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-24s %8s %14s\n", "rank", "phase", "calls", "cumtime")
	for i, name := range names {
		fmt.Fprintf(&b, "%-6d %-24s %8d %14s\n", i+1, name, p.calls[name], p.total[name].Round(time.Microsecond))
	}
	return b.String()
}
