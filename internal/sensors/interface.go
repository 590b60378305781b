package sensors

import "context"

// Sensor supplies the pressure readings the resource monitors consume.
// Implementations must return an error rather than a misleading zero when
// a reading cannot be obtained.
type Sensor interface {
	// CPUPercent returns the busy percentage across all cores since the
	// previous call.
	CPUPercent(ctx context.Context) (float64, error)

	// DiskQueueDepth returns the number of I/O operations currently
	// in flight, summed across block devices.
	DiskQueueDepth(ctx context.Context) (float64, error)
}

// SpaceQuerier reports free bytes on a watched volume.
type SpaceQuerier interface {
	FreeBytes(ctx context.Context, drive string) (int64, error)
}

// ProcessLister enumerates the names of running processes for the
// blacklist check.
type ProcessLister interface {
	RunningProcesses(ctx context.Context) ([]string, error)
}

// HostStats supplies readings recorded for telemetry only; they never
// feed the health gate.
type HostStats interface {
	LoadAverage(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
}
