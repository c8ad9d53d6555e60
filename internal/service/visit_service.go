package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/storage"
)

type visitStore interface {
	FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error)
	ListVisits(ctx context.Context, assignmentID string) ([]models.VisitRecord, error)
	FindVisit(ctx context.Context, assignmentID string, milestone models.VisitMilestone) (*models.VisitRecord, error)
	CompleteVisit(ctx context.Context, params repository.VisitCompletion) (time.Time, error)
}

type evidenceStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// VisitLedger is the read model for an assignment's visit progression.
type VisitLedger struct {
	Assignment *models.AssignmentRecord `json:"assignment"`
	Visits     []models.VisitRecord     `json:"visits"`
}

// EvidenceLink is a short-lived signed reference to a stored evidence
// document.
type EvidenceLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VisitService drives the visit ledger: strictly forward milestone
// completion with evidence handling for the closing visit.
type VisitService struct {
	assignments visitStore
	storage     evidenceStorage
	signer      *storage.SignedURLSigner
	audit       auditLogger
	emitter     EventEmitter
	metrics     *MetricsService
	cfg         config.VisitsConfig
	logger      *zap.Logger
}

// NewVisitService constructs the service.
func NewVisitService(
	assignments visitStore,
	store evidenceStorage,
	signer *storage.SignedURLSigner,
	audit auditLogger,
	emitter EventEmitter,
	metrics *MetricsService,
	cfg config.VisitsConfig,
	logger *zap.Logger,
) *VisitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitService{
		assignments: assignments,
		storage:     store,
		signer:      signer,
		audit:       audit,
		emitter:     emitter,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

// Ledger returns the assignment and its visit rows in milestone order.
func (s *VisitService) Ledger(ctx context.Context, assignmentID string) (*VisitLedger, error) {
	record, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	visits, err := s.assignments.ListVisits(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list visit ledger")
	}
	return &VisitLedger{Assignment: record, Visits: visits}, nil
}

// CompleteVisit closes the next milestone of the ledger. Only the
// assignment's instructor may complete visits, milestones may never be
// skipped or revisited, and the final visit requires an evidence document.
func (s *VisitService) CompleteVisit(ctx context.Context, actor *models.Actor, assignmentID string, req dto.CompleteVisitRequest) (*models.VisitRecord, error) {
	if actor == nil {
		return nil, s.fail(appErrors.ErrUnauthorized)
	}
	if actor.Role != models.RoleInstructor {
		return nil, s.fail(appErrors.Clone(appErrors.ErrForbidden, "only instructors complete visits"))
	}
	if !req.TargetMilestone.Valid() {
		return nil, s.fail(appErrors.Clone(appErrors.ErrValidation, "unknown visit milestone"))
	}
	observations := strings.TrimSpace(req.Observations)
	if observations == "" {
		return nil, s.fail(appErrors.Clone(appErrors.ErrValidation, "visit observations are required"))
	}

	record, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, s.fail(err)
	}
	if record.InstructorID != actor.UserID {
		return nil, s.fail(appErrors.Clone(appErrors.ErrForbidden, "only the responsible instructor may complete this visit"))
	}
	if !record.Active() {
		return nil, s.fail(appErrors.Clone(appErrors.ErrConflict, "assignment was superseded, its ledger is frozen"))
	}
	next, ok := record.VisitState.Next()
	if !ok {
		return nil, s.fail(appErrors.Clone(appErrors.ErrInvalidState, "visit ledger is already complete"))
	}
	if req.TargetMilestone != next {
		return nil, s.fail(appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("next milestone to complete is %s", next)))
	}

	completion := repository.VisitCompletion{
		AssignmentID: record.ID,
		From:         record.VisitState,
		Milestone:    next,
		Observations: observations,
	}

	var storedPath string
	if req.TargetMilestone == models.MilestoneFinalVisit && req.Evidence == nil {
		return nil, s.fail(appErrors.Clone(appErrors.ErrValidation, "an evidence document is required to close the final visit"))
	}
	if req.Evidence != nil {
		storedPath, err = s.storeEvidence(record.ID, next, req.Evidence)
		if err != nil {
			return nil, s.fail(err)
		}
		completion.EvidencePath = &storedPath
		completion.EvidenceMIME = &req.Evidence.MIME
		size := int64(len(req.Evidence.Content))
		completion.EvidenceSize = &size
	}

	if _, err := s.assignments.CompleteVisit(ctx, completion); err != nil {
		if storedPath != "" {
			if cleanupErr := s.storage.Delete(storedPath); cleanupErr != nil {
				s.logger.Warn("failed to remove orphaned evidence", zap.String("path", storedPath), zap.Error(cleanupErr))
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail(appErrors.Clone(appErrors.ErrAlreadyProcessed, "milestone was already completed"))
		}
		return nil, s.fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete visit"))
	}

	visit, err := s.assignments.FindVisit(ctx, record.ID, next)
	if err != nil {
		return nil, s.fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload visit record"))
	}

	s.emitAudit(ctx, actor, visit)
	if s.emitter != nil {
		s.emitter.Emit(models.WorkflowEvent{
			SubjectRole: models.RoleCoordinator,
			SubjectID:   record.RequestID,
			Title:       "Visit milestone completed",
			Body:        fmt.Sprintf("Milestone %s of assignment %s was completed.", next, record.ID),
			CreatedAt:   time.Now().UTC(),
		})
	}
	if s.metrics != nil {
		s.metrics.RecordTransition("complete_visit", "success")
	}
	return visit, nil
}

// EvidenceLink issues a signed, expiring token for downloading a visit's
// evidence document.
func (s *VisitService) EvidenceLink(ctx context.Context, assignmentID string, milestone models.VisitMilestone) (*EvidenceLink, error) {
	if !milestone.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown visit milestone")
	}
	visit, err := s.assignments.FindVisit(ctx, assignmentID, milestone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "visit record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visit record")
	}
	if visit.EvidencePath == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "visit has no evidence document")
	}
	token, expiresAt, err := s.signer.Generate(visit.ID, *visit.EvidencePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign evidence link")
	}
	return &EvidenceLink{Token: token, ExpiresAt: expiresAt}, nil
}

// OpenEvidence resolves a signed token and opens the referenced document.
func (s *VisitService) OpenEvidence(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "evidence link is invalid or expired")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence document not found")
	}
	return file, nil
}

func (s *VisitService) storeEvidence(assignmentID string, milestone models.VisitMilestone, upload *dto.EvidenceUpload) (string, error) {
	if len(upload.Content) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "evidence document is empty")
	}
	if max := s.cfg.EvidenceMaxSizeBytes; max > 0 && int64(len(upload.Content)) > max {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("evidence document exceeds the %d byte limit", max))
	}
	if !s.mimeAllowed(upload.MIME) {
		return "", appErrors.Clone(appErrors.ErrValidation, "evidence document type is not allowed")
	}
	path := fmt.Sprintf("%s/%s.pdf", assignmentID, strings.ToLower(string(milestone)))
	stored, err := s.storage.Save(path, upload.Content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store evidence document")
	}
	return stored, nil
}

func (s *VisitService) mimeAllowed(mime string) bool {
	if len(s.cfg.EvidenceAllowedMIMEs) == 0 {
		return mime == "application/pdf"
	}
	for _, allowed := range s.cfg.EvidenceAllowedMIMEs {
		if strings.EqualFold(allowed, mime) {
			return true
		}
	}
	return false
}

func (s *VisitService) loadAssignment(ctx context.Context, id string) (*models.AssignmentRecord, error) {
	record, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return record, nil
}

func (s *VisitService) emitAudit(ctx context.Context, actor *models.Actor, visit *models.VisitRecord) {
	if s.audit == nil {
		return
	}
	resourceID := visit.ID
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionCompleteVisit,
		Resource:   "visit_record",
		ResourceID: &resourceID,
		NewValues:  mustJSON(visit),
		IPAddress:  "engine",
		UserAgent:  "visit-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *VisitService) fail(err error) error {
	if s.metrics != nil {
		s.metrics.RecordTransition("complete_visit", appErrors.FromError(err).Code)
	}
	return err
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
