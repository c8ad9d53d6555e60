package handler

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/response"
)

// ExportHandler exposes follow-up summary exports.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// FollowUpSummary godoc
// @Summary Render an assignment's follow-up summary to CSV or PDF
// @Tags exports
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.FollowUpExportRequest true "Export format"
// @Success 201 {object} response.Envelope{data=service.ExportResult}
// @Security BearerAuth
// @Router /assignments/{id}/export [post]
func (h *ExportHandler) FollowUpSummary(c *gin.Context) {
	var req dto.FollowUpExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	result, err := h.exports.FollowUpSummary(c.Request.Context(), c.Param("id"), req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a rendered export via a signed token
// @Tags exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}
	file, err := h.exports.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export file not found"))
		return
	}
	c.Header("Content-Disposition", "attachment")
	http.ServeContent(c.Writer, c.Request, path.Base(file.Name()), info.ModTime(), file)
}
