package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
)

const contractDateLayout = "2006-01-02"

const reviewQueueCacheKey = "workflow:queue:review"

type requestStore interface {
	FindByID(ctx context.Context, id string) (*models.PracticeRequest, error)
	TransitionState(ctx context.Context, id string, from, to models.RequestState) error
	TransitionWithMessage(ctx context.Context, params repository.TransitionParams) error
	ListReviewQueue(ctx context.Context) ([]models.ReviewQueueItem, error)
}

type assignmentStore interface {
	FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error)
	FindActiveByRequest(ctx context.Context, requestID string) (*models.AssignmentRecord, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.AssignmentRecord, error)
	CreateWithVisits(ctx context.Context, record *models.AssignmentRecord, visits []repository.PlannedVisit) error
	Supersede(ctx context.Context, params repository.SupersedeParams) error
}

type trailStore interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.MessageTrailEntry, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EventEmitter hands an event to the notification pipeline. Implementations
// must never block the caller on delivery.
type EventEmitter interface {
	Emit(event models.WorkflowEvent)
}

// EventEmitterFunc allows plain functions as emitters.
type EventEmitterFunc func(event models.WorkflowEvent)

// Emit implements EventEmitter.
func (f EventEmitterFunc) Emit(event models.WorkflowEvent) { f(event) }

// WorkflowService is the single authority on request lifecycle
// transitions. Callers (coordinator, instructor, operator UIs) may compute
// eligibility hints client-side, but every rule is re-validated here.
type WorkflowService struct {
	requests    requestStore
	assignments assignmentStore
	trail       trailStore
	audit       auditLogger
	planner     VisitPlanner
	emitter     EventEmitter
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(
	requests requestStore,
	assignments assignmentStore,
	trail trailStore,
	audit auditLogger,
	planner VisitPlanner,
	emitter EventEmitter,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		requests:    requests,
		assignments: assignments,
		trail:       trail,
		audit:       audit,
		planner:     planner,
		emitter:     emitter,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Assign binds an instructor to an unassigned request and pre-provisions
// the visit ledger.
func (s *WorkflowService) Assign(ctx context.Context, actor *models.Actor, requestID string, req dto.AssignRequest) (*models.AssignmentRecord, error) {
	if err := s.requireRole(actor, models.RoleCoordinator, models.RoleOperator); err != nil {
		return nil, s.fail("assign", err)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail("assign", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload"))
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, s.fail("assign", err)
	}
	if request.State != models.RequestStateUnassigned {
		return nil, s.fail("assign", appErrors.Clone(appErrors.ErrInvalidState, "request already has an instructor assigned"))
	}

	record := &models.AssignmentRecord{
		RequestID:    request.ID,
		InstructorID: req.InstructorID,
	}
	visits := s.planner.PlanVisits(time.Now().UTC())
	if err := s.assignments.CreateWithVisits(ctx, record, visits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("assign", appErrors.Clone(appErrors.ErrInvalidState, "request already has an instructor assigned"))
		}
		return nil, s.fail("assign", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment"))
	}

	s.afterTransition(ctx, actor, models.AuditActionAssign, "practice_request", request.ID, record, models.WorkflowEvent{
		SubjectRole: models.RoleInstructor,
		SubjectID:   req.InstructorID,
		Title:       "Practice request assigned",
		Body:        fmt.Sprintf("You are now responsible for the follow-up of apprentice %s.", request.ApprenticeName),
	})
	s.record("assign", "success")
	return record, nil
}

// Reassign replaces the responsible instructor. The current record is
// superseded, never mutated; its visit ledger is retained for audit and a
// fresh one is provisioned for the replacement.
func (s *WorkflowService) Reassign(ctx context.Context, actor *models.Actor, assignmentID string, req dto.ReassignRequest) (*models.AssignmentRecord, error) {
	if err := s.requireRole(actor, models.RoleCoordinator); err != nil {
		return nil, s.fail("reassign", err)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail("reassign", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload"))
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, s.fail("reassign", appErrors.Clone(appErrors.ErrValidation, "reassignment reason is required"))
	}

	current, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("reassign", appErrors.Clone(appErrors.ErrNotFound, "assignment not found"))
		}
		return nil, s.fail("reassign", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment"))
	}
	if !current.Active() {
		return nil, s.fail("reassign", appErrors.Clone(appErrors.ErrConflict, "assignment was already superseded, refresh and retry"))
	}

	request, err := s.loadRequest(ctx, current.RequestID)
	if err != nil {
		return nil, s.fail("reassign", err)
	}
	if request.State != models.RequestStateAssigned {
		return nil, s.fail("reassign", appErrors.Clone(appErrors.ErrInvalidState, "request is no longer in an assignable state"))
	}

	reason := strings.TrimSpace(req.Reason)
	replacement := &models.AssignmentRecord{
		RequestID:      request.ID,
		InstructorID:   req.NewInstructorID,
		ReassignReason: &reason,
	}
	params := repository.SupersedeParams{
		CurrentID:       current.ID,
		ExpectedVersion: req.ExpectedVersion,
		Replacement:     replacement,
		Visits:          s.planner.PlanVisits(time.Now().UTC()),
	}
	if err := s.assignments.Supersede(ctx, params); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, s.fail("reassign", appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, refresh and retry"))
		}
		return nil, s.fail("reassign", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign instructor"))
	}

	s.afterTransition(ctx, actor, models.AuditActionReassign, "assignment_record", current.ID, replacement, models.WorkflowEvent{
		SubjectRole: models.RoleInstructor,
		SubjectID:   req.NewInstructorID,
		Title:       "Follow-up reassigned to you",
		Body:        fmt.Sprintf("You replace the previous instructor for apprentice %s. Reason: %s", request.ApprenticeName, reason),
	})
	s.record("reassign", "success")
	return replacement, nil
}

// InstructorValuation records the responsible instructor's verdict and
// moves the request into coordinator review.
func (s *WorkflowService) InstructorValuation(ctx context.Context, actor *models.Actor, requestID string, req dto.InstructorValuationRequest) (*models.MessageTrailEntry, error) {
	if err := s.requireRole(actor, models.RoleInstructor); err != nil {
		return nil, s.fail("instructor_valuation", err)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail("instructor_valuation", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid valuation payload"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, s.fail("instructor_valuation", appErrors.Clone(appErrors.ErrValidation, "valuation message is required"))
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, s.fail("instructor_valuation", err)
	}
	if request.State != models.RequestStateAssigned {
		return nil, s.fail("instructor_valuation", appErrors.Clone(appErrors.ErrInvalidState, "request is not awaiting instructor valuation"))
	}

	assignment, err := s.assignments.FindActiveByRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("instructor_valuation", appErrors.Clone(appErrors.ErrInvalidState, "request has no active assignment"))
		}
		return nil, s.fail("instructor_valuation", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment"))
	}
	if assignment.InstructorID != actor.UserID {
		return nil, s.fail("instructor_valuation", appErrors.Clone(appErrors.ErrForbidden, "only the responsible instructor may submit a valuation"))
	}

	messageType := models.MessageTypeApproved
	if req.Outcome == dto.OutcomeReject {
		messageType = models.MessageTypeRejected
	}
	entry := &models.MessageTrailEntry{
		RequestID:   request.ID,
		AuthorID:    actor.UserID,
		AuthorRole:  models.RoleInstructor,
		MessageType: messageType,
		Content:     strings.TrimSpace(req.Message),
	}
	err = s.requests.TransitionWithMessage(ctx, repository.TransitionParams{
		RequestID: request.ID,
		From:      models.RequestStateAssigned,
		To:        models.RequestStateReviewing,
		Entry:     entry,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("instructor_valuation", appErrors.Clone(appErrors.ErrInvalidState, "valuation was already submitted"))
		}
		return nil, s.fail("instructor_valuation", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record valuation"))
	}

	s.afterTransition(ctx, actor, models.AuditActionInstructorValuation, "practice_request", request.ID, entry, models.WorkflowEvent{
		SubjectRole: models.RoleCoordinator,
		SubjectID:   request.ID,
		Title:       "Valuation submitted",
		Body:        fmt.Sprintf("Request of apprentice %s is awaiting coordinator review.", request.ApprenticeName),
	})
	s.record("instructor_valuation", "success")
	return entry, nil
}

// CoordinatorReview applies the coordinator's decision. Approval persists
// the contract dates and pre-approves the request; rejection only needs
// the message. The two validations are independent.
func (s *WorkflowService) CoordinatorReview(ctx context.Context, actor *models.Actor, requestID string, req dto.CoordinatorReviewRequest) (*models.PracticeRequest, error) {
	if err := s.requireRole(actor, models.RoleCoordinator); err != nil {
		return nil, s.fail("coordinator_review", err)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail("coordinator_review", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, s.fail("coordinator_review", appErrors.Clone(appErrors.ErrValidation, "review message is required"))
	}

	var contractStart, contractEnd *time.Time
	target := models.RequestStateRejected
	messageType := models.MessageTypeRejected
	if req.Outcome == dto.OutcomeApprove {
		start, end, err := parseContractDates(req.StartDate, req.EndDate)
		if err != nil {
			return nil, s.fail("coordinator_review", err)
		}
		contractStart, contractEnd = &start, &end
		target = models.RequestStatePreApproved
		messageType = models.MessageTypeApproved
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, s.fail("coordinator_review", err)
	}
	switch request.State {
	case models.RequestStateReviewing:
	case models.RequestStatePreApproved, models.RequestStateApproved, models.RequestStateRejected:
		return nil, s.fail("coordinator_review", appErrors.Clone(appErrors.ErrAlreadyProcessed, "request was already reviewed"))
	default:
		return nil, s.fail("coordinator_review", appErrors.Clone(appErrors.ErrInvalidState, "request is not awaiting coordinator review"))
	}

	entry := &models.MessageTrailEntry{
		RequestID:   request.ID,
		AuthorID:    actor.UserID,
		AuthorRole:  models.RoleCoordinator,
		MessageType: messageType,
		Content:     strings.TrimSpace(req.Message),
	}
	err = s.requests.TransitionWithMessage(ctx, repository.TransitionParams{
		RequestID:     request.ID,
		From:          models.RequestStateReviewing,
		To:            target,
		ContractStart: contractStart,
		ContractEnd:   contractEnd,
		Entry:         entry,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("coordinator_review", appErrors.Clone(appErrors.ErrAlreadyProcessed, "request was already reviewed"))
		}
		return nil, s.fail("coordinator_review", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review"))
	}

	request.State = target
	request.ContractStartDate = contractStart
	request.ContractEndDate = contractEnd

	body := fmt.Sprintf("Your practice request was rejected: %s", entry.Content)
	if req.Outcome == dto.OutcomeApprove {
		body = "Your practice request was pre-approved and awaits contract confirmation."
	}
	s.afterTransition(ctx, actor, models.AuditActionCoordinatorReview, "practice_request", request.ID, entry, models.WorkflowEvent{
		SubjectRole: models.RoleApprentice,
		SubjectID:   request.ApprenticeID,
		Title:       "Coordinator decision recorded",
		Body:        body,
	})
	s.record("coordinator_review", "success")
	return request, nil
}

// OperatorConfirm flips a pre-approved request to APPROVED once the
// contract is registered.
func (s *WorkflowService) OperatorConfirm(ctx context.Context, actor *models.Actor, requestID string) (*models.PracticeRequest, error) {
	if err := s.requireRole(actor, models.RoleOperator); err != nil {
		return nil, s.fail("operator_confirm", err)
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, s.fail("operator_confirm", err)
	}
	switch request.State {
	case models.RequestStatePreApproved:
	case models.RequestStateApproved:
		return nil, s.fail("operator_confirm", appErrors.Clone(appErrors.ErrAlreadyProcessed, "request was already confirmed"))
	default:
		return nil, s.fail("operator_confirm", appErrors.Clone(appErrors.ErrInvalidState, "request is not awaiting operator confirmation"))
	}

	if err := s.requests.TransitionState(ctx, request.ID, models.RequestStatePreApproved, models.RequestStateApproved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail("operator_confirm", appErrors.Clone(appErrors.ErrAlreadyProcessed, "request was already confirmed"))
		}
		return nil, s.fail("operator_confirm", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm request"))
	}

	request.State = models.RequestStateApproved
	s.afterTransition(ctx, actor, models.AuditActionOperatorConfirm, "practice_request", request.ID, request, models.WorkflowEvent{
		SubjectRole: models.RoleApprentice,
		SubjectID:   request.ApprenticeID,
		Title:       "Practice request approved",
		Body:        "Your contract was registered and the practice stage is confirmed.",
	})
	s.record("operator_confirm", "success")
	return request, nil
}

// ReviewQueue returns the coordinator's awaiting-action listing, cached
// briefly since transitions invalidate it anyway.
func (s *WorkflowService) ReviewQueue(ctx context.Context, actor *models.Actor) ([]models.ReviewQueueItem, error) {
	if err := s.requireRole(actor, models.RoleCoordinator, models.RoleOperator); err != nil {
		return nil, err
	}
	var items []models.ReviewQueueItem
	if hit, _ := s.cache.Get(ctx, reviewQueueCacheKey, &items); hit {
		return items, nil
	}
	items, err := s.requests.ListReviewQueue(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review queue")
	}
	s.cache.Set(ctx, reviewQueueCacheKey, items, 0)
	return items, nil
}

// MessageTrail returns the request's trail in chronological order.
func (s *WorkflowService) MessageTrail(ctx context.Context, requestID string) ([]models.MessageTrailEntry, error) {
	if _, err := s.loadRequest(ctx, requestID); err != nil {
		return nil, err
	}
	entries, err := s.trail.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list message trail")
	}
	return entries, nil
}

// AssignmentHistory returns all assignment records for a request, current
// first, including superseded ones.
func (s *WorkflowService) AssignmentHistory(ctx context.Context, requestID string) ([]models.AssignmentRecord, error) {
	if _, err := s.loadRequest(ctx, requestID); err != nil {
		return nil, err
	}
	records, err := s.assignments.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignment history")
	}
	return records, nil
}

func (s *WorkflowService) loadRequest(ctx context.Context, id string) (*models.PracticeRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "practice request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load practice request")
	}
	return request, nil
}

func (s *WorkflowService) requireRole(actor *models.Actor, allowed ...models.UserRole) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	for _, role := range allowed {
		if actor.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "operation not allowed for role "+string(actor.Role))
}

// afterTransition runs the best-effort side effects that follow a durable
// commit: audit, queue cache invalidation, event emission. None of them may
// fail the already-committed mutation.
func (s *WorkflowService) afterTransition(ctx context.Context, actor *models.Actor, action, resource, resourceID string, payload interface{}, event models.WorkflowEvent) {
	s.emitAudit(ctx, actor, action, resource, resourceID, payload)
	s.cache.Invalidate(ctx, "workflow:queue:*")
	event.CreatedAt = time.Now().UTC()
	if s.emitter != nil {
		s.emitter.Emit(event)
	}
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor *models.Actor, action, resource, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	values, err := json.Marshal(payload)
	if err != nil {
		values = []byte("{}")
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "engine",
		UserAgent:  "workflow-service",
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *WorkflowService) fail(operation string, err error) error {
	s.record(operation, appErrors.FromError(err).Code)
	return err
}

func (s *WorkflowService) record(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(operation, outcome)
	}
}

func parseContractDates(rawStart, rawEnd string) (time.Time, time.Time, error) {
	if strings.TrimSpace(rawStart) == "" || strings.TrimSpace(rawEnd) == "" {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "contract start and end dates are required for approval")
	}
	start, err := time.Parse(contractDateLayout, rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "contract start date must use YYYY-MM-DD")
	}
	end, err := time.Parse(contractDateLayout, rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "contract end date must use YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "contract end date cannot precede the start date")
	}
	return start, end, nil
}
