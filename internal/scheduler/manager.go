package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
)

// Job is a unit of periodic work. The context is cancelled when the job
// exceeds its timeout or the manager stops.
type Job func(ctx context.Context) error

// parser accepts standard five-field expressions plus descriptors like @every 1m.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Manager runs named jobs on cron schedules. A run that is still in progress
// when its next tick fires is skipped.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager creates a manager whose jobs run for at most timeout.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:    make(map[string]cron.EntryID),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register schedules job under name, replacing any job with the same name.
func (m *Manager) Register(name, spec string, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
	}

	entryID, err := m.cron.AddFunc(spec, func() { m.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	m.jobs[name] = entryID

	m.logger.Info("Registered job", zap.String("job", name), zap.String("cron", spec))
	return nil
}

// RunNow executes a registered job synchronously, outside its schedule.
func (m *Manager) RunNow(name string, job Job) error {
	return m.execute(name, job)
}

func (m *Manager) run(name string, job Job) {
	_ = m.execute(name, job)
}

func (m *Manager) execute(name string, job Job) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := job(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		m.logger.Error("Job failed",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		m.logger.Info("Job completed",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed))
	}
	metrics.JobRunsTotal.WithLabelValues(name, status).Inc()
	return err
}

// Start begins firing scheduled jobs.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.cron.Start()

	m.logger.Info("Scheduler started", zap.Int("jobs", len(m.jobs)))
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.logger.Info("Stopping scheduler")
	m.cancel()
	<-m.cron.Stop().Done()
	m.running = false
}

// NextRun reports when a registered job fires next.
func (m *Manager) NextRun(name string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("job %s not registered", name)
	}
	return m.cron.Entry(entryID).Next, nil
}

// ValidateSpec checks a cron expression without scheduling it.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}
