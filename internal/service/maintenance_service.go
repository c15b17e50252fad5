package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintenance task names, used as metric labels.
const (
	TaskCloseGrants   = "close_expired_grants"
	TaskPruneSessions = "prune_idle_sessions"
	TaskPurgeExports  = "purge_exports"
)

type grantCloser interface {
	CloseExpiredGrants(ctx context.Context) ([]string, error)
}

type challengePruner interface {
	Prune() int
}

type exportPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// MaintenanceConfig holds cron specs; an empty spec disables the task.
type MaintenanceConfig struct {
	GrantSchedule   string
	SessionSchedule string
	ExportSchedule  string
	SessionIdleTTL  time.Duration
	TaskTimeout     time.Duration
}

// MaintenanceService runs periodic housekeeping on a cron schedule.
// Any dependency may be nil, in which case its task is skipped.
type MaintenanceService struct {
	grants     grantCloser
	sessions   *SessionService
	challenges challengePruner
	exports    exportPurger
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        MaintenanceConfig
	cron       *cron.Cron
}

// NewMaintenanceService wires the housekeeping tasks.
func NewMaintenanceService(grants grantCloser, sessions *SessionService, challenges challengePruner, exports exportPurger, metrics *MetricsService, logger *zap.Logger, cfg MaintenanceConfig) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 2 * time.Hour
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}
	return &MaintenanceService{
		grants:     grants,
		sessions:   sessions,
		challenges: challenges,
		exports:    exports,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start registers the scheduled tasks and starts the scheduler.
func (s *MaintenanceService) Start(ctx context.Context) error {
	tasks := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{TaskCloseGrants, s.cfg.GrantSchedule, s.CloseExpiredGrants},
		{TaskPruneSessions, s.cfg.SessionSchedule, s.PruneSessions},
		{TaskPurgeExports, s.cfg.ExportSchedule, s.PurgeExports},
	}
	for _, task := range tasks {
		if task.spec == "" {
			continue
		}
		name, run := task.name, task.run
		if _, err := s.cron.AddFunc(task.spec, func() { s.execute(ctx, name, run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		s.logger.Info("maintenance task scheduled", zap.String("task", name), zap.String("schedule", task.spec))
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running tasks.
func (s *MaintenanceService) Stop() {
	<-s.cron.Stop().Done()
}

// CloseExpiredGrants deactivates grants whose application deadline has passed.
func (s *MaintenanceService) CloseExpiredGrants(ctx context.Context) error {
	if s.grants == nil {
		return nil
	}
	ids, err := s.grants.CloseExpiredGrants(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		s.logger.Info("closed expired grants", zap.Strings("grant_ids", ids))
	}
	return nil
}

// PruneSessions drops idle sessions and expired sign-in challenges.
func (s *MaintenanceService) PruneSessions(_ context.Context) error {
	if s.sessions != nil {
		s.sessions.PruneIdle(s.cfg.SessionIdleTTL)
	}
	if s.challenges != nil {
		if n := s.challenges.Prune(); n > 0 {
			s.logger.Debug("pruned expired challenges", zap.Int("count", n))
		}
	}
	return nil
}

// PurgeExports removes report files past their retention.
func (s *MaintenanceService) PurgeExports(ctx context.Context) error {
	if s.exports == nil {
		return nil
	}
	_, err := s.exports.PurgeExpired(ctx)
	return err
}

func (s *MaintenanceService) execute(parent context.Context, name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.TaskTimeout)
	defer cancel()
	start := time.Now()
	err := run(ctx)
	s.metrics.RecordMaintenance(name, err)
	if err != nil {
		s.logger.Warn("maintenance task failed", zap.String("task", name), zap.Duration("took", time.Since(start)), zap.Error(err))
	}
}
