package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/export"
	"github.com/noah-isme/scholarflow-api/pkg/storage"
)

type applicationSource interface {
	Grant(ctx context.Context, id string) (*models.Grant, error)
	Applications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	PurgeOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders a grant's applications and persists the file behind a signed URL.
type ExportService struct {
	source  applicationSource
	storage fileStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(source applicationSource, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		source:  source,
		storage: files,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders the job's grant report and stores it.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.buildDataset(ctx, job.GrantID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Format {
	case models.ReportFormatCSV:
		payload, err = export.RenderCSV(dataset)
	case models.ReportFormatPDF:
		payload, err = export.RenderPDF(dataset)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Debug("export rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.SignedToken, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl; ttl <= 0 uses the configured ResultTTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.PurgeOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	return fmt.Sprintf("grant_%s_%s_%s.%s",
		sanitizeFilename(job.GrantID),
		s.now().Format("20060102_150405"),
		sanitizeFilename(job.ID),
		job.Format,
	)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, grantID string) (export.Dataset, error) {
	grant, err := s.source.Grant(ctx, grantID)
	if err != nil {
		return export.Dataset{}, err
	}
	apps, err := s.source.Applications(ctx, models.ApplicationFilter{GrantID: grantID})
	if err != nil {
		return export.Dataset{}, err
	}

	counts := map[models.ApplicationStatus]int{}
	rows := make([][]string, 0, len(apps))
	for _, app := range apps {
		counts[app.Status]++
		reviewedAt := ""
		if app.ReviewedAt != nil {
			reviewedAt = app.ReviewedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			app.ID,
			app.StudentAddress,
			app.RequestedAmount.StringFixed(2),
			string(app.Status),
			app.ApplicationTimestamp.UTC().Format(time.RFC3339),
			deref(app.ReviewedBy),
			reviewedAt,
			deref(app.ReviewNote),
		})
	}

	return export.Dataset{
		Title: "Applications: " + grant.Title,
		Summary: []string{
			"Grant: " + grant.ID,
			"Owner: " + grant.GrantOwner,
			"Funding: " + grant.RemainingFunding.StringFixed(2) + " of " + grant.TotalFunding.StringFixed(2) + " remaining",
			"Deadline: " + grant.ApplicationDeadline.UTC().Format(time.RFC3339),
			"Applications: " + strconv.Itoa(len(apps)) +
				" (pending " + strconv.Itoa(counts[models.ApplicationPending]) +
				", approved " + strconv.Itoa(counts[models.ApplicationApproved]) +
				", rejected " + strconv.Itoa(counts[models.ApplicationRejected]) + ")",
		},
		Headers: []string{"Application", "Student", "Requested", "Status", "Submitted", "Reviewed By", "Reviewed At", "Note"},
		Rows:    rows,
	}, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
