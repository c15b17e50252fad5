package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

func TestReportJobRepositoryLifecycle(t *testing.T) {
	repo := NewReportJobRepository()
	ctx := context.Background()
	job := &models.ReportJob{ID: "job-1", GrantID: "g-1", Status: models.ReportStatusQueued}
	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, job), appErrors.ErrConflict)

	finished := time.Now().Add(-48 * time.Hour)
	updated, err := repo.Update(ctx, "job-1", func(j *models.ReportJob) {
		j.Status = models.ReportStatusFinished
		j.FinishedAt = &finished
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, updated.Status)

	removed := repo.DeleteFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
	assert.Equal(t, []string{"job-1"}, removed)

	_, err = repo.FindByID(ctx, "job-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
