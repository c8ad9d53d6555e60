package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/response"
)

// VisitHandler exposes the visit ledger operations.
type VisitHandler struct {
	visits *service.VisitService
}

// NewVisitHandler constructs the handler.
func NewVisitHandler(visits *service.VisitService) *VisitHandler {
	return &VisitHandler{visits: visits}
}

// Ledger godoc
// @Summary Get the visit ledger of an assignment
// @Tags visits
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope{data=service.VisitLedger}
// @Security BearerAuth
// @Router /assignments/{id}/visits [get]
func (h *VisitHandler) Ledger(c *gin.Context) {
	ledger, err := h.visits.Ledger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// CompleteVisit godoc
// @Summary Complete the next milestone of an assignment's visit ledger
// @Description Multipart form with target_milestone, observations and an
// @Description optional evidence file. Evidence is mandatory for FINAL_VISIT.
// @Tags visits
// @Accept mpfd
// @Produce json
// @Param id path string true "Assignment ID"
// @Param target_milestone formData string true "Milestone to complete"
// @Param observations formData string true "Visit observations"
// @Param evidence formData file false "Evidence document (PDF)"
// @Success 200 {object} response.Envelope{data=models.VisitRecord}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/visits/complete [post]
func (h *VisitHandler) CompleteVisit(c *gin.Context) {
	req := dto.CompleteVisitRequest{
		TargetMilestone: models.VisitMilestone(c.PostForm("target_milestone")),
		Observations:    c.PostForm("observations"),
	}

	if fileHeader, err := c.FormFile("evidence"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "could not read evidence upload"))
			return
		}
		defer file.Close() //nolint:errcheck
		content, err := io.ReadAll(file)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "could not read evidence upload"))
			return
		}
		req.Evidence = &dto.EvidenceUpload{
			Filename: fileHeader.Filename,
			MIME:     fileHeader.Header.Get("Content-Type"),
			Size:     fileHeader.Size,
			Content:  content,
		}
	}

	visit, err := h.visits.CompleteVisit(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, visit, nil)
}

// EvidenceLink godoc
// @Summary Issue a signed download link for a visit's evidence document
// @Tags visits
// @Produce json
// @Param id path string true "Assignment ID"
// @Param milestone path string true "Visit milestone"
// @Success 200 {object} response.Envelope{data=service.EvidenceLink}
// @Security BearerAuth
// @Router /assignments/{id}/visits/{milestone}/evidence-link [get]
func (h *VisitHandler) EvidenceLink(c *gin.Context) {
	link, err := h.visits.EvidenceLink(c.Request.Context(), c.Param("id"), models.VisitMilestone(c.Param("milestone")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadEvidence godoc
// @Summary Download an evidence document via a signed token
// @Tags visits
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /evidence [get]
func (h *VisitHandler) DownloadEvidence(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}
	file, err := h.visits.OpenEvidence(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "evidence document not found"))
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", "attachment")
	http.ServeContent(c.Writer, c.Request, "evidence.pdf", info.ModTime(), file)
}
