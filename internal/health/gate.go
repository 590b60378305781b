package health

import (
	"context"
	"fmt"
	"strings"

	"codeberg.org/mutker/shuttled/internal/logger"
	"codeberg.org/mutker/shuttled/internal/monitor"
	"codeberg.org/mutker/shuttled/internal/sensors"
)

// Gate reduces every health signal into one "safe to transfer" decision.
// Blocking conditions are checked in a fixed priority order so the
// operator always sees the most actionable cause: a blacklisted process
// first, then resource overload, then low disk space (when configured to
// block).
type Gate struct {
	monitors         []*monitor.Monitor
	drives           *DriveChecker
	procs            sensors.ProcessLister
	blacklist        []string
	lowSpaceSuspends bool

	blacklistHit string
}

func NewGate(
	monitors []*monitor.Monitor,
	drives *DriveChecker,
	procs sensors.ProcessLister,
	blacklist []string,
	lowSpaceSuspends bool,
) *Gate {
	return &Gate{
		monitors:         monitors,
		drives:           drives,
		procs:            procs,
		blacklist:        blacklist,
		lowSpaceSuspends: lowSpaceSuspends,
	}
}

// Refresh pulls fresh readings for every signal: monitor windows, drive
// free space and the process blacklist scan. Sensor failures leave the
// previous monitor state and mark scan results unknown.
func (g *Gate) Refresh(ctx context.Context) {
	for _, m := range g.monitors {
		m.Refresh(ctx)
	}
	g.drives.Refresh(ctx)
	g.refreshBlacklist(ctx)
}

func (g *Gate) refreshBlacklist(ctx context.Context) {
	g.blacklistHit = ""
	if len(g.blacklist) == 0 {
		return
	}

	names, err := g.procs.RunningProcesses(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to enumerate processes, skipping blacklist check")
		return
	}

	running := make(map[string]struct{}, len(names))
	for _, n := range names {
		running[strings.ToLower(n)] = struct{}{}
	}
	for _, b := range g.blacklist {
		if _, ok := running[strings.ToLower(b)]; ok {
			g.blacklistHit = b
			return
		}
	}
}

// Evaluate returns whether it is safe to run a transfer, and when not,
// the first blocking condition in priority order.
func (g *Gate) Evaluate() (bool, string) {
	if g.blacklistHit != "" {
		return false, fmt.Sprintf("blacklisted process running: %s", g.blacklistHit)
	}

	for _, m := range g.monitors {
		if m.Overloaded() {
			return false, fmt.Sprintf("%s overloaded: average %.1f above limit %.1f",
				m.Name(), m.Average(), m.Limit())
		}
	}

	if g.lowSpaceSuspends {
		if msg := g.drives.LowSpaceMessage(); msg != "" {
			return false, msg
		}
	}

	return true, ""
}

// LowSpaceMessage exposes the drive checker aggregate for the
// notify-only path, where low space alerts without suspending.
func (g *Gate) LowSpaceMessage() string {
	return g.drives.LowSpaceMessage()
}
