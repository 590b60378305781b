package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/errors"
	"codeberg.org/mutker/shuttled/internal/health"
	"codeberg.org/mutker/shuttled/internal/logger"
	"codeberg.org/mutker/shuttled/internal/monitor"
	"codeberg.org/mutker/shuttled/internal/notify"
	"codeberg.org/mutker/shuttled/internal/sensors"
	"codeberg.org/mutker/shuttled/internal/status"
	"codeberg.org/mutker/shuttled/internal/telemetry"
)

// State describes the supervisor's view of the single in-flight transfer.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSuspended State = "suspended"
)

// Copier is the external bulk-copy mechanism, driven as a black box.
// Pausing keeps the transfer resumable; it is never aborted by the
// supervisor.
type Copier interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// NoopCopier satisfies Copier when no copy tool is attached.
type NoopCopier struct{}

func (NoopCopier) Pause(context.Context) error  { return nil }
func (NoopCopier) Resume(context.Context) error { return nil }

// Deps carries everything the supervisor needs; no globals.
type Deps struct {
	Config     *config.Config
	Gate       *health.Gate
	CPU        *monitor.Monitor
	Queue      *monitor.Monitor
	Store      *status.Store
	Throttle   *notify.Throttle
	Dispatcher notify.Dispatcher
	Copier     Copier
	Telemetry  telemetry.Collector
	Host       sensors.HostStats
	Clock      func() time.Time
}

// Supervisor drives one health-gate evaluation per tick and keeps the
// persisted status record and notification throttle in step with it. All
// state is touched only from the Run loop goroutine.
type Supervisor struct {
	cfg        *config.Config
	gate       *health.Gate
	cpu        *monitor.Monitor
	queue      *monitor.Monitor
	store      *status.Store
	throttle   *notify.Throttle
	dispatcher notify.Dispatcher
	copier     Copier
	telemetry  telemetry.Collector
	host       sensors.HostStats
	clock      func() time.Time

	paused bool
}

func New(d Deps) (*Supervisor, error) {
	errFactory := errors.New()

	if d.Config == nil || d.Gate == nil || d.Store == nil || d.Throttle == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "supervisor requires config, gate, store and throttle")
	}
	if d.Dispatcher == nil {
		d.Dispatcher = notify.NewDispatcher(config.Mail{})
	}
	if d.Copier == nil {
		d.Copier = NoopCopier{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	s := &Supervisor{
		cfg:        d.Config,
		gate:       d.Gate,
		cpu:        d.CPU,
		queue:      d.Queue,
		store:      d.Store,
		throttle:   d.Throttle,
		dispatcher: d.Dispatcher,
		copier:     d.Copier,
		telemetry:  d.Telemetry,
		host:       d.Host,
		clock:      d.Clock,
	}
	s.recover()

	return s, nil
}

// recover inspects the loaded record, seeds notification cool-downs and
// marks the new run as not-yet-cleanly-shut-down. A false CleanShutdown
// observed here means the previous run crashed; that is diagnostic only.
func (s *Supervisor) recover() {
	rec := s.store.Record()

	if !rec.CleanShutdown && !rec.LastStatusUpdate.IsZero() {
		logger.Warn().
			Time("last_heartbeat", rec.LastStatusUpdate.Time).
			Msg("previous run did not shut down cleanly")
	}
	for _, w := range rec.ValidationWarnings {
		logger.Warn().Str("warning", w).Msg("loaded status record with warnings")
	}

	s.throttle.Seed(notify.CategoryStorage, rec.LastStorageNotification.Time)
	s.throttle.Seed(notify.CategoryAdmin, rec.LastAdminNotification.Time)
	s.throttle.Seed(notify.CategoryGrace, rec.LastGraceNotification.Time)

	s.paused = rec.ServiceSuspended

	s.store.Update(func(r *status.Record) {
		r.CleanShutdown = false
	})
}

// Run drives the tick loop until ctx is cancelled, then finishes the
// current tick, flags a clean shutdown, persists and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Interval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().
		Dur("interval", interval).
		Msg("supervisor started")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.clock())
		}
	}
}

func (s *Supervisor) shutdown() {
	s.store.Update(func(r *status.Record) {
		r.CleanShutdown = true
	})
	logger.Info().Msg("supervisor stopped")
}

// Tick performs one supervision round: refresh every signal, evaluate
// the gate, reconcile the status record and raise throttled alerts.
// Exported so tests can drive time deterministically.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	s.gate.Refresh(ctx)
	safe, reason := s.gate.Evaluate()

	rec := s.store.Record()

	switch {
	case !safe:
		if !rec.ServiceSuspended || rec.LimitReason != reason {
			logger.Info().Str("reason", reason).Msg("suspending transfers")
			s.store.Update(func(r *status.Record) {
				r.ServiceSuspended = true
				r.LimitReason = reason
			})
			s.notifySuspended(ctx, now, reason)
		} else {
			s.heartbeat()
		}
		s.pauseTransfer(ctx, rec)
	case rec.ServiceSuspended:
		logger.Info().Str("was", rec.LimitReason).Msg("conditions cleared, resuming transfers")
		s.store.Update(func(r *status.Record) {
			r.ServiceSuspended = false
			r.LimitReason = ""
		})
		s.resumeTransfer(ctx, rec)
	default:
		s.heartbeat()
	}

	s.notifyLowSpace(ctx, now)
	s.checkGrace(ctx, now)
	s.recordTelemetry(ctx, now, safe, reason)
}

// heartbeat persists an otherwise-unchanged record so the external
// display client can detect a stalled process.
func (s *Supervisor) heartbeat() {
	s.store.Update(func(*status.Record) {})
}

func (s *Supervisor) pauseTransfer(ctx context.Context, rec status.Record) {
	if !rec.TransferInProgress || s.paused {
		s.paused = true
		return
	}
	if err := s.copier.Pause(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to pause copy tool")
		return
	}
	s.paused = true
}

func (s *Supervisor) resumeTransfer(ctx context.Context, rec status.Record) {
	if !s.paused {
		return
	}
	if rec.TransferInProgress {
		if err := s.copier.Resume(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to resume copy tool")
			return
		}
	}
	s.paused = false
}

func (s *Supervisor) notifySuspended(ctx context.Context, now time.Time, reason string) {
	if !s.throttle.ShouldSend(notify.CategoryAdmin, now) {
		return
	}

	s.store.Update(func(r *status.Record) {
		r.LastAdminNotification = status.Timestamp{Time: now}
	})

	err := s.dispatcher.Send(ctx, "Transfers suspended",
		fmt.Sprintf("Transfers are suspended: %s", reason), notify.CategoryAdmin)
	if err != nil {
		// The throttle window stays consumed; a broken mailer must not
		// retry on every tick.
		logger.Error().Err(err).Msg("failed to dispatch suspension notice")
	}
}

func (s *Supervisor) notifyLowSpace(ctx context.Context, now time.Time) {
	msg := s.gate.LowSpaceMessage()
	if msg == "" {
		return
	}
	if !s.throttle.ShouldSend(notify.CategoryStorage, now) {
		return
	}

	s.store.Update(func(r *status.Record) {
		r.LastStorageNotification = status.Timestamp{Time: now}
	})

	if err := s.dispatcher.Send(ctx, "Low disk space", msg, notify.CategoryStorage); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch storage notice")
	}
}

// checkGrace looks for completed transfers that have outstayed the grace
// period in the holding area and raises a throttled cleanup reminder.
func (s *Supervisor) checkGrace(ctx context.Context, now time.Time) {
	if s.cfg.GraceDir == "" || s.cfg.GracePeriodHours <= 0 {
		return
	}

	entries, err := os.ReadDir(s.cfg.GraceDir)
	if err != nil {
		logger.Debug().Err(err).Str("dir", s.cfg.GraceDir).Msg("grace location not readable")
		return
	}

	cutoff := now.Add(-time.Duration(s.cfg.GracePeriodHours) * time.Hour)
	expired := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			expired++
		}
	}
	if expired == 0 {
		return
	}
	if !s.throttle.ShouldSend(notify.CategoryGrace, now) {
		return
	}

	s.store.Update(func(r *status.Record) {
		r.LastGraceNotification = status.Timestamp{Time: now}
	})

	body := fmt.Sprintf("%d completed transfer(s) in %s have exceeded the %dh grace period and await cleanup.",
		expired, s.cfg.GraceDir, s.cfg.GracePeriodHours)
	if err := s.dispatcher.Send(ctx, "Grace period expired", body, notify.CategoryGrace); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch grace notice")
	}
}

func (s *Supervisor) recordTelemetry(ctx context.Context, now time.Time, safe bool, reason string) {
	if s.telemetry == nil {
		return
	}

	rec := s.store.Record()
	snapshot := &telemetry.Snapshot{
		Timestamp: now,
		Gate: telemetry.GateState{
			Safe:               safe,
			Reason:             reason,
			ServiceSuspended:   rec.ServiceSuspended,
			TransferInProgress: rec.TransferInProgress,
		},
	}
	if s.cpu != nil {
		snapshot.CPU = telemetry.MetricState{
			Average:    s.cpu.Average(),
			Limit:      s.cpu.Limit(),
			Overloaded: s.cpu.Overloaded(),
		}
	}
	if s.queue != nil {
		snapshot.DiskQueue = telemetry.MetricState{
			Average:    s.queue.Average(),
			Limit:      s.queue.Limit(),
			Overloaded: s.queue.Overloaded(),
		}
	}
	if s.host != nil {
		if load1, err := s.host.LoadAverage(ctx); err == nil {
			snapshot.Host.Load1 = load1
		}
		if memPct, err := s.host.MemoryPercent(ctx); err == nil {
			snapshot.Host.MemoryPercent = memPct
		}
	}

	if err := s.telemetry.Record(ctx, snapshot); err != nil {
		logger.Error().Err(err).Msg("failed to record telemetry snapshot")
	}
}

// BeginTransfer records a new in-flight transfer. The queue scanner that
// discovers work items calls this before handing the pair to the copy
// tool.
func (s *Supervisor) BeginTransfer(src, targetTmp string, size int64) {
	s.store.Update(func(r *status.Record) {
		r.CurrentTransferSrc = src
		r.CurrentTargetTmp = targetTmp
		r.CurrentTransferSize = size
		r.TransferInProgress = true
	})
}

// CompleteTransfer clears the in-flight transfer.
func (s *Supervisor) CompleteTransfer() {
	s.store.Update(func(r *status.Record) {
		r.CurrentTransferSrc = ""
		r.CurrentTargetTmp = ""
		r.CurrentTransferSize = 0
		r.TransferInProgress = false
	})
	s.paused = false
}

// CurrentState derives the transfer state from the status record.
func (s *Supervisor) CurrentState() State {
	rec := s.store.Record()
	switch {
	case rec.ServiceSuspended:
		return StateSuspended
	case rec.TransferInProgress:
		return StateRunning
	default:
		return StateIdle
	}
}
