package health

import (
	"context"
	"fmt"
	"strings"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/logger"
	"codeberg.org/mutker/shuttled/internal/sensors"
)

// FreeUnknown marks a drive whose free space could not be determined this
// tick. Unknown is neither low nor healthy: it never raises an alarm and
// never clears one.
const FreeUnknown = int64(-1)

// DriveStatus is the last observed state of one watched volume.
type DriveStatus struct {
	Name         string
	MinFreeBytes int64
	FreeBytes    int64
}

// IsLow reports whether the volume is known to be below its floor.
func (d DriveStatus) IsLow() bool {
	return d.FreeBytes >= 0 && d.FreeBytes < d.MinFreeBytes
}

// DriveChecker re-queries every watched volume on each tick.
type DriveChecker struct {
	querier sensors.SpaceQuerier
	drives  []DriveStatus
}

func NewDriveChecker(querier sensors.SpaceQuerier, watches []config.DriveWatch) *DriveChecker {
	drives := make([]DriveStatus, 0, len(watches))
	for _, w := range watches {
		drives = append(drives, DriveStatus{
			Name:         w.Name,
			MinFreeBytes: w.MinFreeBytes,
			FreeBytes:    FreeUnknown,
		})
	}

	return &DriveChecker{querier: querier, drives: drives}
}

// Refresh queries free space for every watched drive. A failed query
// records FreeUnknown for that drive and moves on.
func (c *DriveChecker) Refresh(ctx context.Context) {
	for i := range c.drives {
		free, err := c.querier.FreeBytes(ctx, c.drives[i].Name)
		if err != nil {
			logger.Warn().Err(err).Str("drive", c.drives[i].Name).Msg("failed to query free space")
			c.drives[i].FreeBytes = FreeUnknown
			continue
		}
		c.drives[i].FreeBytes = free
	}
}

// LowSpaceMessage aggregates every drive currently below threshold into a
// single operator-readable message, empty when none are low.
func (c *DriveChecker) LowSpaceMessage() string {
	var parts []string
	for _, d := range c.drives {
		if d.IsLow() {
			parts = append(parts, fmt.Sprintf("%s has %s free (minimum %s)",
				d.Name, formatBytes(d.FreeBytes), formatBytes(d.MinFreeBytes)))
		}
	}
	if len(parts) == 0 {
		return ""
	}

	return "low disk space: " + strings.Join(parts, "; ")
}

// Drives returns a copy of the current per-drive state.
func (c *DriveChecker) Drives() []DriveStatus {
	out := make([]DriveStatus, len(c.drives))
	copy(out, c.drives)

	return out
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
