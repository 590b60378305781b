package sensors

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/shuttled/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const defaultTimeout = 2 * time.Second

// System reads host pressure through gopsutil. Every call is bounded by
// a timeout so one stuck OS query cannot stall the supervisor tick.
type System struct {
	timeout time.Duration
}

func NewSystem(timeout time.Duration) *System {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &System{timeout: timeout}
}

func (s *System) CPUPercent(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSampleFailed, err)
	}
	if len(percents) == 0 {
		return 0, errFactory.WithMessage(errors.ErrSampleFailed, "no cpu readings returned")
	}

	return percents[0], nil
}

func (s *System) DiskQueueDepth(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSampleFailed, err)
	}

	var depth uint64
	for _, c := range counters {
		depth += c.IopsInProgress
	}

	return float64(depth), nil
}

func (s *System) FreeBytes(ctx context.Context, drive string) (int64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := disk.UsageWithContext(ctx, drive)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrDriveQuery, err)
	}

	return int64(usage.Free), nil
}

func (s *System) RunningProcesses(ctx context.Context) ([]string, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrProcessListing, err)
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes exit between listing and inspection; skip them.
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

func (s *System) LoadAverage(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSampleFailed, err)
	}

	return avg.Load1, nil
}

func (s *System) MemoryPercent(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSampleFailed, err)
	}

	return vm.UsedPercent, nil
}
