package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
)

type requestStoreStub struct {
	request          *models.PracticeRequest
	findErr          error
	transitionErr    error
	transitionParams []repository.TransitionParams
	stateTransitions []string
	queueItems       []models.ReviewQueueItem
	queueErr         error
}

func (s *requestStoreStub) FindByID(ctx context.Context, id string) (*models.PracticeRequest, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.request == nil || s.request.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.request
	return &copied, nil
}

func (s *requestStoreStub) TransitionState(ctx context.Context, id string, from, to models.RequestState) error {
	s.stateTransitions = append(s.stateTransitions, string(from)+"->"+string(to))
	return s.transitionErr
}

func (s *requestStoreStub) TransitionWithMessage(ctx context.Context, params repository.TransitionParams) error {
	s.transitionParams = append(s.transitionParams, params)
	return s.transitionErr
}

func (s *requestStoreStub) ListReviewQueue(ctx context.Context) ([]models.ReviewQueueItem, error) {
	return s.queueItems, s.queueErr
}

type assignmentStoreStub struct {
	record          *models.AssignmentRecord
	history         []models.AssignmentRecord
	createErr       error
	supersedeErr    error
	createdRecords  []*models.AssignmentRecord
	createdVisits   [][]repository.PlannedVisit
	supersedeParams []repository.SupersedeParams
}

func (s *assignmentStoreStub) FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error) {
	if s.record == nil || s.record.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.record
	return &copied, nil
}

func (s *assignmentStoreStub) FindActiveByRequest(ctx context.Context, requestID string) (*models.AssignmentRecord, error) {
	if s.record == nil || s.record.RequestID != requestID || !s.record.Active() {
		return nil, sql.ErrNoRows
	}
	copied := *s.record
	return &copied, nil
}

func (s *assignmentStoreStub) ListByRequest(ctx context.Context, requestID string) ([]models.AssignmentRecord, error) {
	return s.history, nil
}

func (s *assignmentStoreStub) CreateWithVisits(ctx context.Context, record *models.AssignmentRecord, visits []repository.PlannedVisit) error {
	if s.createErr != nil {
		return s.createErr
	}
	record.ID = "asg-new"
	record.Version = 1
	record.VisitState = models.VisitStateNone
	s.createdRecords = append(s.createdRecords, record)
	s.createdVisits = append(s.createdVisits, visits)
	return nil
}

func (s *assignmentStoreStub) Supersede(ctx context.Context, params repository.SupersedeParams) error {
	if s.supersedeErr != nil {
		return s.supersedeErr
	}
	params.Replacement.ID = "asg-new"
	s.supersedeParams = append(s.supersedeParams, params)
	return nil
}

type trailStoreStub struct {
	entries []models.MessageTrailEntry
	err     error
}

func (s *trailStoreStub) ListByRequest(ctx context.Context, requestID string) ([]models.MessageTrailEntry, error) {
	return s.entries, s.err
}

type auditStub struct {
	logs []*models.AuditLog
	err  error
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return s.err
}

type emitterStub struct {
	events []models.WorkflowEvent
}

func (s *emitterStub) Emit(event models.WorkflowEvent) {
	s.events = append(s.events, event)
}

type plannerStub struct{}

func (plannerStub) PlanVisits(assignedAt time.Time) []repository.PlannedVisit {
	return []repository.PlannedVisit{
		{Milestone: models.MilestoneAgreement, ScheduledDate: assignedAt.AddDate(0, 0, 15)},
		{Milestone: models.MilestonePartialVisit, ScheduledDate: assignedAt.AddDate(0, 0, 90)},
		{Milestone: models.MilestoneFinalVisit, ScheduledDate: assignedAt.AddDate(0, 0, 170)},
	}
}

type workflowFixture struct {
	requests    *requestStoreStub
	assignments *assignmentStoreStub
	trail       *trailStoreStub
	audit       *auditStub
	emitter     *emitterStub
	service     *WorkflowService
}

func newWorkflowFixture(request *models.PracticeRequest, record *models.AssignmentRecord) *workflowFixture {
	f := &workflowFixture{
		requests:    &requestStoreStub{request: request},
		assignments: &assignmentStoreStub{record: record},
		trail:       &trailStoreStub{},
		audit:       &auditStub{},
		emitter:     &emitterStub{},
	}
	f.service = NewWorkflowService(f.requests, f.assignments, f.trail, f.audit, plannerStub{}, f.emitter, nil, nil, nil, nil)
	return f
}

func unassignedRequest() *models.PracticeRequest {
	return &models.PracticeRequest{
		ID:             "req-1",
		ApprenticeID:   "appr-1",
		ApprenticeName: "Maria Gomez",
		State:          models.RequestStateUnassigned,
	}
}

func coordinator() *models.Actor {
	return &models.Actor{UserID: "coord-1", Role: models.RoleCoordinator}
}

func TestWorkflowServiceAssign(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)

	record, err := f.service.Assign(context.Background(), coordinator(), "req-1", dto.AssignRequest{InstructorID: "inst-1"})
	require.NoError(t, err)
	assert.Equal(t, "inst-1", record.InstructorID)
	assert.Equal(t, models.VisitStateNone, record.VisitState)

	require.Len(t, f.assignments.createdVisits, 1)
	assert.Len(t, f.assignments.createdVisits[0], 3)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, models.RoleInstructor, f.emitter.events[0].SubjectRole)
	assert.Equal(t, "inst-1", f.emitter.events[0].SubjectID)

	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAssign, f.audit.logs[0].Action)
}

func TestWorkflowServiceAssignWrongState(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	f := newWorkflowFixture(request, nil)

	_, err := f.service.Assign(context.Background(), coordinator(), "req-1", dto.AssignRequest{InstructorID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", appErrors.FromError(err).Code)
	assert.Empty(t, f.emitter.events)
}

func TestWorkflowServiceAssignConcurrentLoser(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)
	f.assignments.createErr = sql.ErrNoRows

	_, err := f.service.Assign(context.Background(), coordinator(), "req-1", dto.AssignRequest{InstructorID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", appErrors.FromError(err).Code)
}

func TestWorkflowServiceAssignForbiddenRole(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)

	actor := &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
	_, err := f.service.Assign(context.Background(), actor, "req-1", dto.AssignRequest{InstructorID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestWorkflowServiceAssignNotFound(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)

	_, err := f.service.Assign(context.Background(), coordinator(), "req-missing", dto.AssignRequest{InstructorID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestWorkflowServiceReassign(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	record := &models.AssignmentRecord{ID: "asg-1", RequestID: "req-1", InstructorID: "inst-1", VisitState: models.VisitStateAgreement, Version: 2}
	f := newWorkflowFixture(request, record)

	replacement, err := f.service.Reassign(context.Background(), coordinator(), "asg-1", dto.ReassignRequest{
		NewInstructorID: "inst-2",
		Reason:          "instructor on leave",
		ExpectedVersion: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "inst-2", replacement.InstructorID)
	require.NotNil(t, replacement.ReassignReason)
	assert.Equal(t, "instructor on leave", *replacement.ReassignReason)

	require.Len(t, f.assignments.supersedeParams, 1)
	assert.Equal(t, int64(2), f.assignments.supersedeParams[0].ExpectedVersion)
	assert.Len(t, f.assignments.supersedeParams[0].Visits, 3)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, "inst-2", f.emitter.events[0].SubjectID)
}

func TestWorkflowServiceReassignVersionConflict(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	record := &models.AssignmentRecord{ID: "asg-1", RequestID: "req-1", InstructorID: "inst-1", Version: 1}
	f := newWorkflowFixture(request, record)
	f.assignments.supersedeErr = repository.ErrVersionConflict

	_, err := f.service.Reassign(context.Background(), coordinator(), "asg-1", dto.ReassignRequest{
		NewInstructorID: "inst-2",
		Reason:          "workload balancing",
		ExpectedVersion: 1,
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appErrors.FromError(err).Code)
	assert.Empty(t, f.emitter.events)
}

func TestWorkflowServiceReassignSuperseded(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	supersededAt := time.Now().UTC()
	record := &models.AssignmentRecord{ID: "asg-1", RequestID: "req-1", InstructorID: "inst-1", Version: 2, SupersededAt: &supersededAt}
	f := newWorkflowFixture(request, record)

	_, err := f.service.Reassign(context.Background(), coordinator(), "asg-1", dto.ReassignRequest{
		NewInstructorID: "inst-2",
		Reason:          "duplicate click",
		ExpectedVersion: 2,
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appErrors.FromError(err).Code)
}

func TestWorkflowServiceInstructorValuation(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	record := &models.AssignmentRecord{ID: "asg-1", RequestID: "req-1", InstructorID: "inst-1", Version: 1}
	f := newWorkflowFixture(request, record)

	actor := &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
	entry, err := f.service.InstructorValuation(context.Background(), actor, "req-1", dto.InstructorValuationRequest{
		Outcome: dto.OutcomeReject,
		Message: "apprentice never reported to the company",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeRejected, entry.MessageType)
	assert.Equal(t, models.RoleInstructor, entry.AuthorRole)

	require.Len(t, f.requests.transitionParams, 1)
	assert.Equal(t, models.RequestStateAssigned, f.requests.transitionParams[0].From)
	assert.Equal(t, models.RequestStateReviewing, f.requests.transitionParams[0].To)
	require.Len(t, f.emitter.events, 1)
}

func TestWorkflowServiceInstructorValuationNotResponsible(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	record := &models.AssignmentRecord{ID: "asg-1", RequestID: "req-1", InstructorID: "inst-1", Version: 1}
	f := newWorkflowFixture(request, record)

	actor := &models.Actor{UserID: "inst-2", Role: models.RoleInstructor}
	_, err := f.service.InstructorValuation(context.Background(), actor, "req-1", dto.InstructorValuationRequest{
		Outcome: dto.OutcomeApprove,
		Message: "performance is fine",
	})
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
	assert.Empty(t, f.requests.transitionParams)
}

func TestWorkflowServiceInstructorValuationBlankMessage(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateAssigned
	f := newWorkflowFixture(request, nil)

	actor := &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
	_, err := f.service.InstructorValuation(context.Background(), actor, "req-1", dto.InstructorValuationRequest{
		Outcome: dto.OutcomeApprove,
		Message: "   ",
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestWorkflowServiceInstructorValuationWrongState(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)

	actor := &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
	_, err := f.service.InstructorValuation(context.Background(), actor, "req-1", dto.InstructorValuationRequest{
		Outcome: dto.OutcomeApprove,
		Message: "late submission",
	})
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", appErrors.FromError(err).Code)
}

func TestWorkflowServiceCoordinatorReviewApprove(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)

	updated, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome:   dto.OutcomeApprove,
		Message:   "company and plan verified",
		StartDate: "2026-03-01",
		EndDate:   "2026-09-01",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatePreApproved, updated.State)
	require.NotNil(t, updated.ContractStartDate)
	assert.Equal(t, 2026, updated.ContractStartDate.Year())

	require.Len(t, f.requests.transitionParams, 1)
	assert.NotNil(t, f.requests.transitionParams[0].ContractStart)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, models.RoleApprentice, f.emitter.events[0].SubjectRole)
}

func TestWorkflowServiceCoordinatorReviewReject(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)

	updated, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome: dto.OutcomeReject,
		Message: "incomplete company documentation",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStateRejected, updated.State)
	assert.Nil(t, updated.ContractStartDate)
	require.Len(t, f.requests.transitionParams, 1)
	assert.Nil(t, f.requests.transitionParams[0].ContractStart)
}

func TestWorkflowServiceCoordinatorReviewApproveMissingDates(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)

	_, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome: dto.OutcomeApprove,
		Message: "approved",
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestWorkflowServiceCoordinatorReviewApproveInvertedDates(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)

	_, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome:   dto.OutcomeApprove,
		Message:   "approved",
		StartDate: "2026-09-01",
		EndDate:   "2026-03-01",
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestWorkflowServiceCoordinatorReviewAlreadyProcessed(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStatePreApproved
	f := newWorkflowFixture(request, nil)

	_, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome: dto.OutcomeReject,
		Message: "changed my mind",
	})
	require.Error(t, err)
	assert.Equal(t, "ALREADY_PROCESSED", appErrors.FromError(err).Code)
}

func TestWorkflowServiceCoordinatorReviewConcurrentLoser(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateReviewing
	f := newWorkflowFixture(request, nil)
	f.requests.transitionErr = sql.ErrNoRows

	_, err := f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome: dto.OutcomeReject,
		Message: "rejected",
	})
	require.Error(t, err)
	assert.Equal(t, "ALREADY_PROCESSED", appErrors.FromError(err).Code)
	assert.Empty(t, f.emitter.events)
}

func TestWorkflowServiceOperatorConfirm(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStatePreApproved
	f := newWorkflowFixture(request, nil)

	actor := &models.Actor{UserID: "op-1", Role: models.RoleOperator}
	updated, err := f.service.OperatorConfirm(context.Background(), actor, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStateApproved, updated.State)
	require.Len(t, f.requests.stateTransitions, 1)
	assert.Equal(t, "PRE_APPROVED->APPROVED", f.requests.stateTransitions[0])
	require.Len(t, f.emitter.events, 1)
}

func TestWorkflowServiceOperatorConfirmAlreadyApproved(t *testing.T) {
	request := unassignedRequest()
	request.State = models.RequestStateApproved
	f := newWorkflowFixture(request, nil)

	actor := &models.Actor{UserID: "op-1", Role: models.RoleOperator}
	_, err := f.service.OperatorConfirm(context.Background(), actor, "req-1")
	require.Error(t, err)
	assert.Equal(t, "ALREADY_PROCESSED", appErrors.FromError(err).Code)
}

func TestWorkflowServiceReviewQueue(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)
	f.requests.queueItems = []models.ReviewQueueItem{
		{PracticeRequest: models.PracticeRequest{ID: "req-2", State: models.RequestStateReviewing}},
	}

	items, err := f.service.ReviewQueue(context.Background(), coordinator())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "req-2", items[0].ID)
}

func TestWorkflowServiceReviewQueueForbidden(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)

	actor := &models.Actor{UserID: "appr-1", Role: models.RoleApprentice}
	_, err := f.service.ReviewQueue(context.Background(), actor)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestWorkflowServiceMessageTrail(t *testing.T) {
	f := newWorkflowFixture(unassignedRequest(), nil)
	f.trail.entries = []models.MessageTrailEntry{
		{ID: "msg-1", RequestID: "req-1", AuthorRole: models.RoleInstructor},
	}

	entries, err := f.service.MessageTrail(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWorkflowServiceFullLifecycle(t *testing.T) {
	request := unassignedRequest()
	f := newWorkflowFixture(request, nil)

	record, err := f.service.Assign(context.Background(), coordinator(), "req-1", dto.AssignRequest{InstructorID: "inst-1"})
	require.NoError(t, err)

	f.requests.request.State = models.RequestStateAssigned
	f.assignments.record = record

	instructor := &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
	_, err = f.service.InstructorValuation(context.Background(), instructor, "req-1", dto.InstructorValuationRequest{
		Outcome: dto.OutcomeApprove,
		Message: "apprentice performing well",
	})
	require.NoError(t, err)

	f.requests.request.State = models.RequestStateReviewing
	_, err = f.service.CoordinatorReview(context.Background(), coordinator(), "req-1", dto.CoordinatorReviewRequest{
		Outcome:   dto.OutcomeApprove,
		Message:   "verified",
		StartDate: "2026-03-01",
		EndDate:   "2026-09-01",
	})
	require.NoError(t, err)

	f.requests.request.State = models.RequestStatePreApproved
	operator := &models.Actor{UserID: "op-1", Role: models.RoleOperator}
	updated, err := f.service.OperatorConfirm(context.Background(), operator, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStateApproved, updated.State)

	assert.Len(t, f.emitter.events, 4)
	assert.Len(t, f.audit.logs, 4)
}
