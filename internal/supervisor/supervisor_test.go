package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/errors"
	"codeberg.org/mutker/shuttled/internal/health"
	"codeberg.org/mutker/shuttled/internal/monitor"
	"codeberg.org/mutker/shuttled/internal/notify"
	"codeberg.org/mutker/shuttled/internal/status"
	"codeberg.org/mutker/shuttled/internal/supervisor"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type stubQuerier struct {
	free map[string]int64
	err  error
}

func (q *stubQuerier) FreeBytes(_ context.Context, drive string) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.free[drive], nil
}

type stubProcs struct {
	names []string
	err   error
}

func (p *stubProcs) RunningProcesses(context.Context) ([]string, error) {
	return p.names, p.err
}

type sentMail struct {
	subject  string
	category notify.Category
}

type recordingDispatcher struct {
	sent []sentMail
	fail bool
}

func (d *recordingDispatcher) Send(_ context.Context, subject, _ string, category notify.Category) error {
	d.sent = append(d.sent, sentMail{subject: subject, category: category})
	if d.fail {
		return errors.New().New(errors.ErrDispatchFailed)
	}
	return nil
}

func (d *recordingDispatcher) byCategory(cat notify.Category) int {
	n := 0
	for _, m := range d.sent {
		if m.category == cat {
			n++
		}
	}
	return n
}

type recordingCopier struct {
	pauses  int
	resumes int
}

func (c *recordingCopier) Pause(context.Context) error  { c.pauses++; return nil }
func (c *recordingCopier) Resume(context.Context) error { c.resumes++; return nil }

type fixture struct {
	sup        *supervisor.Supervisor
	clk        *fakeClock
	cpuReading float64
	procs      *stubProcs
	querier    *stubQuerier
	store      *status.Store
	dispatcher *recordingDispatcher
	copier     *recordingCopier
	statusPath string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{
		Interval:              1000,
		WindowSize:            1,
		Probation:             2,
		CPULimit:              50,
		DiskQueueLimit:        100,
		StorageNotifyInterval: 720,
		AdminNotifyInterval:   60,
		GraceNotifyInterval:   1440,
		GracePeriodHours:      72,
	}
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		clk:        &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		procs:      &stubProcs{},
		querier:    &stubQuerier{free: map[string]int64{}},
		dispatcher: &recordingDispatcher{},
		copier:     &recordingCopier{},
		statusPath: filepath.Join(t.TempDir(), "status.json"),
	}

	cpu := monitor.New("cpu", cfg.CPULimit, cfg.WindowSize, cfg.Probation,
		func(context.Context) (float64, error) { return f.cpuReading, nil })
	queue := monitor.New("disk_queue", cfg.DiskQueueLimit, cfg.WindowSize, cfg.Probation,
		func(context.Context) (float64, error) { return 0, nil })

	drives := health.NewDriveChecker(f.querier, cfg.Drives)
	gate := health.NewGate([]*monitor.Monitor{cpu, queue}, drives, f.procs, cfg.Blacklist, cfg.LowSpaceSuspends)

	f.store = status.Load(f.statusPath, f.clk.Now)
	throttle := notify.NewThrottle(map[notify.Category]time.Duration{
		notify.CategoryStorage: time.Duration(cfg.StorageNotifyInterval) * time.Minute,
		notify.CategoryAdmin:   time.Duration(cfg.AdminNotifyInterval) * time.Minute,
		notify.CategoryGrace:   time.Duration(cfg.GraceNotifyInterval) * time.Minute,
	})

	sup, err := supervisor.New(supervisor.Deps{
		Config:     cfg,
		Gate:       gate,
		CPU:        cpu,
		Queue:      queue,
		Store:      f.store,
		Throttle:   throttle,
		Dispatcher: f.dispatcher,
		Copier:     f.copier,
		Clock:      f.clk.Now,
	})
	require.NoError(t, err)
	f.sup = sup

	return f
}

func (f *fixture) tick(at time.Time) {
	f.clk.now = at
	f.sup.Tick(context.Background(), at)
}

func TestSuspendsAfterProbationAndResumes(t *testing.T) {
	f := newFixture(t, nil)
	t0 := f.clk.Now()

	f.cpuReading = 90
	f.tick(t0)
	assert.Equal(t, supervisor.StateIdle, f.sup.CurrentState(),
		"first breach is still probation")

	f.tick(t0.Add(time.Second))
	assert.Equal(t, supervisor.StateSuspended, f.sup.CurrentState())
	rec := f.store.Record()
	assert.True(t, rec.ServiceSuspended)
	assert.Contains(t, rec.LimitReason, "cpu overloaded")
	assert.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryAdmin))

	f.cpuReading = 10
	f.tick(t0.Add(2 * time.Second))
	assert.Equal(t, supervisor.StateIdle, f.sup.CurrentState(),
		"one in-bounds reading clears the trip")
	rec = f.store.Record()
	assert.False(t, rec.ServiceSuspended)
	assert.Empty(t, rec.LimitReason)
}

func TestPausesAndResumesActiveTransfer(t *testing.T) {
	f := newFixture(t, nil)
	t0 := f.clk.Now()

	f.sup.BeginTransfer("/src/movie.mkv", "/dst/.movie.mkv.tmp", 4<<30)
	assert.Equal(t, supervisor.StateRunning, f.sup.CurrentState())

	f.cpuReading = 95
	f.tick(t0)
	f.tick(t0.Add(time.Second))
	assert.Equal(t, 1, f.copier.pauses)

	rec := f.store.Record()
	assert.True(t, rec.TransferInProgress, "a paused transfer stays recorded")
	assert.Equal(t, "/src/movie.mkv", rec.CurrentTransferSrc)

	// Staying suspended must not pause again.
	f.tick(t0.Add(2 * time.Second))
	assert.Equal(t, 1, f.copier.pauses)

	f.cpuReading = 5
	f.tick(t0.Add(3 * time.Second))
	assert.Equal(t, 1, f.copier.resumes)
	assert.Equal(t, supervisor.StateRunning, f.sup.CurrentState())

	f.sup.CompleteTransfer()
	rec = f.store.Record()
	assert.False(t, rec.TransferInProgress)
	assert.Empty(t, rec.CurrentTargetTmp)
	assert.Equal(t, supervisor.StateIdle, f.sup.CurrentState())
}

func TestBlacklistOutranksOverload(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Blacklist = []string{"backup-job"}
	})
	f.procs.names = []string{"systemd", "Backup-Job"}
	t0 := f.clk.Now()

	f.cpuReading = 95
	f.tick(t0)
	f.tick(t0.Add(time.Second))

	rec := f.store.Record()
	assert.True(t, rec.ServiceSuspended)
	assert.Contains(t, rec.LimitReason, "blacklisted process")
}

func TestStorageNotificationRespectsCooldown(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Drives = []config.DriveWatch{{Name: "/mnt/store", MinFreeBytes: 10 << 30}}
	})
	f.querier.free["/mnt/store"] = 5 << 30
	t0 := f.clk.Now()

	f.tick(t0)
	require.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryStorage))
	rec := f.store.Record()
	assert.Equal(t, t0, rec.LastStorageNotification.Time)
	assert.False(t, rec.ServiceSuspended, "low space alerts without suspending by default")

	f.tick(t0.Add(10 * time.Hour))
	assert.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryStorage),
		"inside the cool-down the alert is silent")

	f.tick(t0.Add(13 * time.Hour))
	assert.Equal(t, 2, f.dispatcher.byCategory(notify.CategoryStorage))
}

func TestLowSpaceSuspendsWhenConfigured(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Drives = []config.DriveWatch{{Name: "/mnt/store", MinFreeBytes: 10 << 30}}
		cfg.LowSpaceSuspends = true
	})
	f.querier.free["/mnt/store"] = 1 << 30

	f.tick(f.clk.Now())

	rec := f.store.Record()
	assert.True(t, rec.ServiceSuspended)
	assert.Contains(t, rec.LimitReason, "low disk space")
}

func TestFailedDispatchStillConsumesWindow(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Drives = []config.DriveWatch{{Name: "/mnt/store", MinFreeBytes: 10 << 30}}
	})
	f.querier.free["/mnt/store"] = 1 << 30
	f.dispatcher.fail = true
	t0 := f.clk.Now()

	f.tick(t0)
	f.tick(t0.Add(time.Minute))

	assert.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryStorage),
		"a broken mailer must not retry every tick")
	rec := f.store.Record()
	assert.Equal(t, t0, rec.LastStorageNotification.Time)
}

func TestCooldownSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	clk := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	t0 := clk.now
	first := status.Load(path, clk.Now)
	first.Update(func(r *status.Record) {
		r.LastStorageNotification = status.Timestamp{Time: t0}
	})

	// Rebuild on the persisted record so Seed picks up the timestamp.
	f2 := restartFixture(t, clk, path)
	f2.querier.free["/mnt/store"] = 1 << 30

	f2.tick(t0.Add(10 * time.Hour))
	assert.Zero(t, f2.dispatcher.byCategory(notify.CategoryStorage),
		"persisted cool-down is honoured after restart")

	f2.tick(t0.Add(13 * time.Hour))
	assert.Equal(t, 1, f2.dispatcher.byCategory(notify.CategoryStorage))
}

// restartFixture builds a fresh supervisor over an existing status file,
// simulating a process restart.
func restartFixture(t *testing.T, clk *fakeClock, path string) *fixture {
	t.Helper()

	cfg := &config.Config{
		Interval:              1000,
		WindowSize:            1,
		Probation:             2,
		CPULimit:              50,
		DiskQueueLimit:        100,
		StorageNotifyInterval: 720,
		AdminNotifyInterval:   60,
		GraceNotifyInterval:   1440,
		GracePeriodHours:      72,
		Drives:                []config.DriveWatch{{Name: "/mnt/store", MinFreeBytes: 10 << 30}},
	}

	f := &fixture{
		clk:        clk,
		procs:      &stubProcs{},
		querier:    &stubQuerier{free: map[string]int64{}},
		dispatcher: &recordingDispatcher{},
		copier:     &recordingCopier{},
		statusPath: path,
	}

	cpu := monitor.New("cpu", cfg.CPULimit, cfg.WindowSize, cfg.Probation,
		func(context.Context) (float64, error) { return f.cpuReading, nil })
	queue := monitor.New("disk_queue", cfg.DiskQueueLimit, cfg.WindowSize, cfg.Probation,
		func(context.Context) (float64, error) { return 0, nil })
	drives := health.NewDriveChecker(f.querier, cfg.Drives)
	gate := health.NewGate([]*monitor.Monitor{cpu, queue}, drives, f.procs, nil, false)

	f.store = status.Load(path, f.clk.Now)
	throttle := notify.NewThrottle(map[notify.Category]time.Duration{
		notify.CategoryStorage: time.Duration(cfg.StorageNotifyInterval) * time.Minute,
		notify.CategoryAdmin:   time.Duration(cfg.AdminNotifyInterval) * time.Minute,
		notify.CategoryGrace:   time.Duration(cfg.GraceNotifyInterval) * time.Minute,
	})

	sup, err := supervisor.New(supervisor.Deps{
		Config:     cfg,
		Gate:       gate,
		CPU:        cpu,
		Queue:      queue,
		Store:      f.store,
		Throttle:   throttle,
		Dispatcher: f.dispatcher,
		Copier:     f.copier,
		Clock:      f.clk.Now,
	})
	require.NoError(t, err)
	f.sup = sup

	return f
}

func TestCleanShutdownLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	// New marks the run dirty immediately so a crash leaves evidence.
	reload := status.Load(f.statusPath, f.clk.Now)
	assert.False(t, reload.Record().CleanShutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.sup.Run(ctx))

	reload = status.Load(f.statusPath, f.clk.Now)
	assert.True(t, reload.Record().CleanShutdown)
}

func TestGraceNotification(t *testing.T) {
	graceDir := t.TempDir()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.GraceDir = graceDir
		cfg.GracePeriodHours = 72
	})
	t0 := f.clk.Now()

	stale := filepath.Join(graceDir, "movie.mkv")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := t0.Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	f.tick(t0)
	assert.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryGrace))
	assert.Equal(t, t0, f.store.Record().LastGraceNotification.Time)

	f.tick(t0.Add(time.Hour))
	assert.Equal(t, 1, f.dispatcher.byCategory(notify.CategoryGrace),
		"grace reminders honour the cool-down")
}

func TestHeartbeatEveryTick(t *testing.T) {
	f := newFixture(t, nil)
	t0 := f.clk.Now()

	f.tick(t0.Add(5 * time.Second))

	rec := f.store.Record()
	assert.Equal(t, t0.Add(5*time.Second), rec.LastStatusUpdate.Time)
}
