package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etapa-dev/sgp-workflow-api/internal/middleware"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	"github.com/etapa-dev/sgp-workflow-api/pkg/response"
)

type requestStoreFake struct {
	request *models.PracticeRequest
}

func (f *requestStoreFake) FindByID(ctx context.Context, id string) (*models.PracticeRequest, error) {
	if f.request == nil || f.request.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *f.request
	return &copied, nil
}

func (f *requestStoreFake) TransitionState(ctx context.Context, id string, from, to models.RequestState) error {
	return nil
}

func (f *requestStoreFake) TransitionWithMessage(ctx context.Context, params repository.TransitionParams) error {
	return nil
}

func (f *requestStoreFake) ListReviewQueue(ctx context.Context) ([]models.ReviewQueueItem, error) {
	return nil, nil
}

type assignmentStoreFake struct{}

func (assignmentStoreFake) FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error) {
	return nil, sql.ErrNoRows
}

func (assignmentStoreFake) FindActiveByRequest(ctx context.Context, requestID string) (*models.AssignmentRecord, error) {
	return nil, sql.ErrNoRows
}

func (assignmentStoreFake) ListByRequest(ctx context.Context, requestID string) ([]models.AssignmentRecord, error) {
	return nil, nil
}

func (assignmentStoreFake) CreateWithVisits(ctx context.Context, record *models.AssignmentRecord, visits []repository.PlannedVisit) error {
	record.ID = "asg-1"
	record.Version = 1
	record.VisitState = models.VisitStateNone
	return nil
}

func (assignmentStoreFake) Supersede(ctx context.Context, params repository.SupersedeParams) error {
	return nil
}

type trailStoreFake struct{}

func (trailStoreFake) ListByRequest(ctx context.Context, requestID string) ([]models.MessageTrailEntry, error) {
	return nil, nil
}

type plannerFake struct{}

func (plannerFake) PlanVisits(assignedAt time.Time) []repository.PlannedVisit {
	return nil
}

func newWorkflowTestContext(t *testing.T, state models.RequestState) (*WorkflowHandler, *requestStoreFake) {
	t.Helper()
	requests := &requestStoreFake{
		request: &models.PracticeRequest{ID: "req-1", ApprenticeID: "appr-1", ApprenticeName: "Maria Gomez", State: state},
	}
	svc := service.NewWorkflowService(requests, assignmentStoreFake{}, trailStoreFake{}, nil, plannerFake{}, nil, nil, nil, nil, nil)
	return NewWorkflowHandler(svc), requests
}

func performJSON(t *testing.T, h gin.HandlerFunc, method, target string, body interface{}, claims *models.JWTClaims, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, target, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = params
	if claims != nil {
		c.Set(middleware.ContextClaimsKey, claims)
	}

	h(c)
	return w
}

func TestWorkflowHandlerAssign(t *testing.T) {
	handler, _ := newWorkflowTestContext(t, models.RequestStateUnassigned)

	w := performJSON(t, handler.Assign, http.MethodPost, "/requests/req-1/assign",
		map[string]string{"instructor_id": "inst-1"},
		&models.JWTClaims{UserID: "coord-1", Role: models.RoleCoordinator},
		gin.Params{{Key: "id", Value: "req-1"}})

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Nil(t, envelope.Error)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "inst-1", data["instructor_id"])
}

func TestWorkflowHandlerAssignInvalidBody(t *testing.T) {
	handler, _ := newWorkflowTestContext(t, models.RequestStateUnassigned)

	w := performJSON(t, handler.Assign, http.MethodPost, "/requests/req-1/assign",
		nil,
		&models.JWTClaims{UserID: "coord-1", Role: models.RoleCoordinator},
		gin.Params{{Key: "id", Value: "req-1"}})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandlerAssignConflict(t *testing.T) {
	handler, _ := newWorkflowTestContext(t, models.RequestStateAssigned)

	w := performJSON(t, handler.Assign, http.MethodPost, "/requests/req-1/assign",
		map[string]string{"instructor_id": "inst-1"},
		&models.JWTClaims{UserID: "coord-1", Role: models.RoleCoordinator},
		gin.Params{{Key: "id", Value: "req-1"}})

	require.Equal(t, http.StatusConflict, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_STATE", envelope.Error.Code)
}

func TestWorkflowHandlerAssignUnauthenticated(t *testing.T) {
	handler, _ := newWorkflowTestContext(t, models.RequestStateUnassigned)

	w := performJSON(t, handler.Assign, http.MethodPost, "/requests/req-1/assign",
		map[string]string{"instructor_id": "inst-1"},
		nil,
		gin.Params{{Key: "id", Value: "req-1"}})

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkflowHandlerOperatorConfirmAlreadyProcessed(t *testing.T) {
	handler, _ := newWorkflowTestContext(t, models.RequestStateApproved)

	w := performJSON(t, handler.OperatorConfirm, http.MethodPost, "/requests/req-1/confirm",
		nil,
		&models.JWTClaims{UserID: "op-1", Role: models.RoleOperator},
		gin.Params{{Key: "id", Value: "req-1"}})

	require.Equal(t, http.StatusConflict, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "ALREADY_PROCESSED", envelope.Error.Code)
}
