package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/repository"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/jobs"
	"github.com/noah-isme/scholarflow-api/pkg/storage"
)

type recordingDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type reportFixture struct {
	*scholarFlowFixture
	reports    *ReportService
	repo       *repository.ReportJobRepository
	dispatcher *recordingDispatcher
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	base := newScholarFlowFixture(t)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("report-secret", time.Hour)
	exporter := NewExportService(base.engine, files, signer, ExportConfig{APIPrefix: "/api/v1"}, nil)
	repo := repository.NewReportJobRepository()
	reports := NewReportService(repo, base.engine, exporter, NewMetricsService(), nil, nil, ReportServiceConfig{ResultTTL: time.Hour})
	dispatcher := &recordingDispatcher{}
	reports.SetQueue(dispatcher)
	return &reportFixture{scholarFlowFixture: base, reports: reports, repo: repo, dispatcher: dispatcher}
}

func TestCreateReportJobQueuesAndRenders(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.sessions.Connect(ctx, studentAddr, models.RoleStudent)
	f.submit(t, 250)

	owner := f.capability(t, ownerA, models.RoleGrantOwner)
	job, err := f.reports.CreateJob(ctx, owner, "G1", models.ReportRequest{Format: models.ReportFormatCSV})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, job.ID, f.dispatcher.jobs[0].ID)

	require.NoError(t, f.reports.Handle(ctx, f.dispatcher.jobs[0]))
	status, err := f.reports.GetStatus(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/export/"))

	token := strings.TrimPrefix(*status.ResultURL, "/api/v1/export/")
	download, err := f.reports.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(body), studentAddr)
	assert.Contains(t, string(body), "250.00")
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestCreateReportJobAuthorization(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	ownerBCap := f.capability(t, ownerB, models.RoleGrantOwner)
	_, err := f.reports.CreateJob(ctx, ownerBCap, "G1", models.ReportRequest{Format: models.ReportFormatPDF})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	admin := f.capability(t, adminAddr, models.RoleAdmin)
	_, err = f.reports.CreateJob(ctx, admin, "G1", models.ReportRequest{Format: "xlsx"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	job, err := f.reports.CreateJob(ctx, admin, "G1", models.ReportRequest{Format: models.ReportFormatPDF})
	require.NoError(t, err)
	_, err = f.reports.GetStatus(ctx, ownerBCap, job.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCreateReportJobMarksFailedWhenQueueRefuses(t *testing.T) {
	f := newReportFixture(t)
	f.dispatcher.err = jobs.ErrNotRunning
	admin := f.capability(t, adminAddr, models.RoleAdmin)

	_, err := f.reports.CreateJob(context.Background(), admin, "G1", models.ReportRequest{Format: models.ReportFormatCSV})
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestGiveUpMarksJobFailed(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	admin := f.capability(t, adminAddr, models.RoleAdmin)
	job, err := f.reports.CreateJob(ctx, admin, "G1", models.ReportRequest{Format: models.ReportFormatCSV})
	require.NoError(t, err)

	f.reports.GiveUp(jobs.Job{ID: job.ID}, errors.New("disk full"))
	status, err := f.reports.GetStatus(ctx, admin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.Equal(t, "disk full", *status.ErrorMessage)
	assert.NotNil(t, status.FinishedAt)
}

func TestResolveDownloadRejectsForeignToken(t *testing.T) {
	f := newReportFixture(t)
	_, err := f.reports.ResolveDownload(context.Background(), "not-a-token")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExportDatasetSummarisesGrant(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.sessions.Connect(ctx, studentAddr, models.RoleStudent)
	app := f.submit(t, 300)
	admin := f.capability(t, adminAddr, models.RoleAdmin)
	_, err := f.svc.ApproveApplication(ctx, admin, app.ID)
	require.NoError(t, err)

	dataset, err := f.reports.exporter.buildDataset(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, "Applications: STEM Scholars", dataset.Title)
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "approved", dataset.Rows[0][3])
	assert.Equal(t, decimal.NewFromInt(300).StringFixed(2), dataset.Rows[0][2])
	assert.Contains(t, dataset.Summary[2], "4700.00 of 5000.00")
}
