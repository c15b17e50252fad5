package service

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/jobs"
)

// ReportJobType is the queue job type for grant exports.
const ReportJobType = "grant_applications_export"

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, mutate func(*models.ReportJob)) (*models.ReportJob, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) []string
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type grantLookup interface {
	Grant(ctx context.Context, id string) (*models.Grant, error)
}

// ReportServiceConfig governs export retention.
type ReportServiceConfig struct {
	ResultTTL time.Duration
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportService orchestrates the grant export lifecycle.
type ReportService struct {
	repo      reportJobStore
	grants    grantLookup
	queue     jobDispatcher
	exporter  *ExportService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ReportServiceConfig
	now       func() time.Time
}

// NewReportService constructs the report service. The queue is attached with SetQueue
// because the queue's handler is the service itself.
func NewReportService(repo reportJobStore, grants grantLookup, exporter *ExportService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		repo:      repo,
		grants:    grants,
		exporter:  exporter,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue attaches the dispatcher jobs are enqueued on.
func (s *ReportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// CreateJob queues an export of a grant's applications. Only reviewers of the grant may export it.
func (s *ReportService) CreateJob(ctx context.Context, capability *authz.Capability, grantID string, req models.ReportRequest) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported report format")
	}
	grant, err := s.grants.Grant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if !capability.CanReview(*grant) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot export another owner's grant")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "report queue not configured")
	}

	job := &models.ReportJob{
		ID:        uuid.NewString(),
		GrantID:   grant.ID,
		Format:    req.Format,
		Status:    models.ReportStatusQueued,
		CreatedBy: capability.Holder(),
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ReportJobType}); err != nil {
		s.finish(ctx, job.ID, models.ReportStatusFailed, nil, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.logger.Info("report job queued", zap.String("job_id", job.ID), zap.String("grant_id", grant.ID), zap.String("format", string(job.Format)))
	return job, nil
}

// GetStatus returns the job to its creator or an admin.
func (s *ReportService) GetStatus(ctx context.Context, capability *authz.Capability, id string) (*models.ReportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if capability.Role() != models.RoleAdmin && job.CreatedBy != capability.Holder() {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// ResolveDownload validates the token and opens the stored export file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	signed, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.FindByID(ctx, signed.JobID)
	if err != nil {
		return nil, err
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	file, err := s.exporter.Open(signed.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  path.Base(signed.Path),
		Format:    job.Format,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// Handle is the queue handler: it renders the export and records the outcome.
// Returning an error hands the job back to the queue for a retry.
func (s *ReportService) Handle(ctx context.Context, job jobs.Job) error {
	record, err := s.repo.Update(ctx, job.ID, func(r *models.ReportJob) {
		r.Status = models.ReportStatusProcessing
		r.Progress = 10
	})
	if err != nil {
		return err
	}
	result, err := s.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if _, updateErr := s.repo.Update(ctx, job.ID, func(r *models.ReportJob) {
			r.Status = models.ReportStatusQueued
			r.Progress = 0
			r.ErrorMessage = &msg
		}); updateErr != nil {
			s.logger.Warn("failed to mark job queued", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return err
	}
	s.finish(ctx, job.ID, models.ReportStatusFinished, &result.URL, "")
	return nil
}

// GiveUp marks a job failed once the queue has exhausted its retries.
func (s *ReportService) GiveUp(job jobs.Job, err error) {
	s.finish(context.Background(), job.ID, models.ReportStatusFailed, nil, err.Error())
}

// PurgeExpired removes export files past the retention window and forgets their jobs.
func (s *ReportService) PurgeExpired(ctx context.Context) (int, error) {
	files, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		return 0, err
	}
	removed := s.repo.DeleteFinishedBefore(ctx, s.now().Add(-s.cfg.ResultTTL))
	if len(files) > 0 || len(removed) > 0 {
		s.logger.Info("purged expired exports", zap.Int("files", len(files)), zap.Int("jobs", len(removed)))
	}
	return len(files), nil
}

func (s *ReportService) finish(ctx context.Context, id string, status models.ReportStatus, resultURL *string, message string) {
	finishedAt := s.now()
	job, err := s.repo.Update(ctx, id, func(r *models.ReportJob) {
		r.Status = status
		r.Progress = 100
		r.FinishedAt = &finishedAt
		r.ResultURL = resultURL
		r.ErrorMessage = nil
		if message != "" {
			r.ErrorMessage = &message
		}
	})
	if err != nil {
		s.logger.Warn("failed to finish report job", zap.String("job_id", id), zap.String("status", string(status)), zap.Error(err))
		return
	}
	s.metrics.RecordReportJob(job.Format, status)
}
