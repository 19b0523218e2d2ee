package connect

import (
	"context"
	"sync"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"

	"github.com/robfig/cron/v3"
)

// Sweeper runs RefreshExpiring on a cron schedule. Runs never overlap.
type Sweeper struct {
	manager  *Manager
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewSweeper parses schedule, a standard cron expression or descriptor
// such as "@every 1m". timeout bounds a single run.
func NewSweeper(manager *Manager, schedule string, timeout time.Duration) (*Sweeper, error) {
	if manager == nil {
		return nil, errors.ConfigError("manager is required for the refresh sweeper")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.ConfigError("invalid refresh schedule: " + err.Error())
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	logger := manager.logger.WithFields(logging.Field{Key: "component", Value: "refresh_sweeper"})
	s := &Sweeper{
		manager:  manager,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}
	cronLog := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cronLog), cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, errors.ConfigError("invalid refresh schedule: " + err.Error())
	}
	return s, nil
}

// Start begins scheduling. It is a no-op when already started.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()
	s.logger.Info("Proactive refresh sweeper started", logging.Field{Key: "schedule", Value: s.schedule})
}

// Stop cancels a running sweep and waits for it to return or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Proactive refresh sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if _, err := s.manager.RefreshExpiring(ctx); err != nil {
		s.logger.Error("Proactive refresh sweep failed", err)
	}
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, err, pairs(keysAndValues)...)
}

func pairs(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logging.Field{Key: key, Value: keysAndValues[i+1]})
	}
	return fields
}
