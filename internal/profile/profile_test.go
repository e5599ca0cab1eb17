package profile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfiler_DisabledIsNoOp(t *testing.T) {
	t.Parallel()

	var p Profiler
	require.False(t, p.Enabled())
	p.Track("setup")()

	report := p.Report(40)
	require.NotContains(t, report, "setup")
}

func TestProfiler_RanksByCumulativeTime(t *testing.T) {
	t.Parallel()

	var p Profiler
	p.Enable()

	stop := p.Track("slow")
	time.Sleep(20 * time.Millisecond)
	stop()
	stop = p.Track("fast")
	time.Sleep(time.Millisecond)
	stop()
	p.Track("fast")()

	report := p.Report(40)
	lines := strings.Split(strings.TrimSpace(report), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "rank")
	require.Contains(t, lines[1], "slow")
	require.Contains(t, lines[2], "fast")
	// The fast phase was tracked twice.
	require.Contains(t, lines[2], " 2 ")
}

func TestProfiler_ReportHonorsLimit(t *testing.T) {
	t.Parallel()

	var p Profiler
	p.Enable()
	p.Track("a")()
	p.Track("b")()
	p.Track("c")()

	lines := strings.Split(strings.TrimSpace(p.Report(2)), "\n")
	require.Len(t, lines, 3) // header plus two entries
}
