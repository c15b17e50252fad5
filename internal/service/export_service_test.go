package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/storage"
)

type applicationSourceStub struct{}

func (applicationSourceStub) Grant(_ context.Context, id string) (*models.Grant, error) {
	if id != "G1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "grant not found")
	}
	return &models.Grant{
		ID:                  "G1",
		GrantOwner:          "0xowner-a",
		Title:               "STEM Excellence",
		TotalFunding:        decimal.NewFromInt(5000),
		RemainingFunding:    decimal.NewFromInt(4600),
		ApplicationDeadline: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:            true,
	}, nil
}

func (applicationSourceStub) Applications(_ context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	reviewer := "0xowner-a"
	reviewedAt := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	return []models.GrantApplication{
		{ID: "app-1", GrantID: filter.GrantID, StudentAddress: "0xstudent", RequestedAmount: decimal.NewFromInt(400), Status: models.ApplicationApproved, ApplicationTimestamp: reviewedAt.Add(-time.Hour), ReviewedBy: &reviewer, ReviewedAt: &reviewedAt},
		{ID: "app-2", GrantID: filter.GrantID, StudentAddress: "0xother", RequestedAmount: decimal.RequireFromString("250.5"), Status: models.ApplicationPending, ApplicationTimestamp: reviewedAt},
	}, nil
}

func newExportServiceForTest(t *testing.T) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	return NewExportService(applicationSourceStub{}, store, signer, ExportConfig{APIPrefix: "/api/v1/", ResultTTL: time.Hour}, zap.NewNop())
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc := newExportServiceForTest(t)
	job := &models.ReportJob{ID: "job-1", GrantID: "G1", Format: models.ReportFormatCSV, CreatedBy: "0xowner-a"}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))
	assert.True(t, strings.HasSuffix(result.RelativePath, ".csv"))

	signed, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", signed.JobID)
	assert.Equal(t, result.RelativePath, signed.Path)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	content := string(body)
	assert.Contains(t, content, "Application,Student,Requested")
	assert.Contains(t, content, "app-1,0xstudent,400.00,approved")
	assert.Contains(t, content, "250.50")
}

func TestExportServiceGeneratePDF(t *testing.T) {
	svc := newExportServiceForTest(t)
	job := &models.ReportJob{ID: "job-2", GrantID: "G1", Format: models.ReportFormatPDF, CreatedBy: "0xowner-a"}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatPDF, result.Format)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	info, err := file.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportServiceUnknownGrant(t *testing.T) {
	svc := newExportServiceForTest(t)
	_, err := svc.Generate(context.Background(), &models.ReportJob{ID: "job-3", GrantID: "missing", Format: models.ReportFormatCSV})
	require.Error(t, err)
}
