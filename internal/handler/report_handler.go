package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/service"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type reportService interface {
	CreateJob(ctx context.Context, capability *authz.Capability, grantID string, req models.ReportRequest) (*models.ReportJob, error)
	GetStatus(ctx context.Context, capability *authz.Capability, id string) (*models.ReportJob, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

var contentTypes = map[models.ReportFormat]string{
	models.ReportFormatCSV: "text/csv",
	models.ReportFormatPDF: "application/pdf",
}

// ReportHandler exposes application exports.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Create godoc
// @Summary Queue an export of a grant's applications
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grant ID"
// @Param payload body models.ReportRequest true "Format"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grants/{id}/reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req models.ReportRequest
	if !bindJSON(c, &req, "invalid report payload") {
		return
	}
	job, err := h.reports.CreateJob(c.Request.Context(), capability, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusAccepted, job)
}

// Status godoc
// @Summary Export job status
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	job, err := h.reports.GetStatus(c.Request.Context(), capability, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, job)
}

// Download godoc
// @Summary Download a finished export
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	download, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export file"))
		return
	}
	contentType, ok := contentTypes[download.Format]
	if !ok {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
		"Cache-Control":       "no-store",
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, download.File, headers)
}
