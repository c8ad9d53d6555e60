package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/middleware"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/response"
)

// WorkflowHandler exposes the request lifecycle operations.
type WorkflowHandler struct {
	workflow *service.WorkflowService
}

// NewWorkflowHandler constructs the handler.
func NewWorkflowHandler(workflow *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow}
}

func actorFrom(c *gin.Context) *models.Actor {
	return models.ActorFromClaims(middleware.ClaimsFromContext(c))
}

// Assign godoc
// @Summary Assign an instructor to a practice request
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AssignRequest true "Assignment payload"
// @Success 201 {object} response.Envelope{data=models.AssignmentRecord}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/assign [post]
func (h *WorkflowHandler) Assign(c *gin.Context) {
	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	record, err := h.workflow.Assign(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Reassign godoc
// @Summary Replace the responsible instructor of an assignment
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.ReassignRequest true "Reassignment payload"
// @Success 201 {object} response.Envelope{data=models.AssignmentRecord}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/reassign [post]
func (h *WorkflowHandler) Reassign(c *gin.Context) {
	var req dto.ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	record, err := h.workflow.Reassign(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// InstructorValuation godoc
// @Summary Submit the instructor's valuation for a request
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.InstructorValuationRequest true "Valuation payload"
// @Success 201 {object} response.Envelope{data=models.MessageTrailEntry}
// @Security BearerAuth
// @Router /requests/{id}/valuation [post]
func (h *WorkflowHandler) InstructorValuation(c *gin.Context) {
	var req dto.InstructorValuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	entry, err := h.workflow.InstructorValuation(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// CoordinatorReview godoc
// @Summary Record the coordinator's decision on a reviewed request
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.CoordinatorReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope{data=models.PracticeRequest}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/review [post]
func (h *WorkflowHandler) CoordinatorReview(c *gin.Context) {
	var req dto.CoordinatorReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	request, err := h.workflow.CoordinatorReview(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// OperatorConfirm godoc
// @Summary Confirm the contract of a pre-approved request
// @Tags workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope{data=models.PracticeRequest}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /requests/{id}/confirm [post]
func (h *WorkflowHandler) OperatorConfirm(c *gin.Context) {
	request, err := h.workflow.OperatorConfirm(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ReviewQueue godoc
// @Summary List requests awaiting coordinator attention
// @Tags workflow
// @Produce json
// @Success 200 {object} response.Envelope{data=[]models.ReviewQueueItem}
// @Security BearerAuth
// @Router /review-queue [get]
func (h *WorkflowHandler) ReviewQueue(c *gin.Context) {
	items, err := h.workflow.ReviewQueue(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// MessageTrail godoc
// @Summary List the message trail of a request in chronological order
// @Tags workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope{data=[]models.MessageTrailEntry}
// @Security BearerAuth
// @Router /requests/{id}/messages [get]
func (h *WorkflowHandler) MessageTrail(c *gin.Context) {
	entries, err := h.workflow.MessageTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// AssignmentHistory godoc
// @Summary List all assignment records of a request, newest first
// @Tags workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope{data=[]models.AssignmentRecord}
// @Security BearerAuth
// @Router /requests/{id}/assignments [get]
func (h *WorkflowHandler) AssignmentHistory(c *gin.Context) {
	records, err := h.workflow.AssignmentHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
