package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etapa-dev/sgp-workflow-api/internal/dto"
	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/storage"
)

type visitStoreStub struct {
	record      *models.AssignmentRecord
	visits      map[models.VisitMilestone]*models.VisitRecord
	completeErr error
	completions []repository.VisitCompletion
}

func (s *visitStoreStub) FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error) {
	if s.record == nil || s.record.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.record
	return &copied, nil
}

func (s *visitStoreStub) ListVisits(ctx context.Context, assignmentID string) ([]models.VisitRecord, error) {
	visits := make([]models.VisitRecord, 0, len(s.visits))
	for _, milestone := range models.Milestones {
		if visit, ok := s.visits[milestone]; ok {
			visits = append(visits, *visit)
		}
	}
	return visits, nil
}

func (s *visitStoreStub) FindVisit(ctx context.Context, assignmentID string, milestone models.VisitMilestone) (*models.VisitRecord, error) {
	visit, ok := s.visits[milestone]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *visit
	return &copied, nil
}

func (s *visitStoreStub) CompleteVisit(ctx context.Context, params repository.VisitCompletion) (time.Time, error) {
	if s.completeErr != nil {
		return time.Time{}, s.completeErr
	}
	s.completions = append(s.completions, params)
	now := time.Now().UTC()
	if visit, ok := s.visits[params.Milestone]; ok {
		visit.CompletedDate = &now
		visit.Observations = &params.Observations
		visit.EvidencePath = params.EvidencePath
		visit.EvidenceMIME = params.EvidenceMIME
		visit.EvidenceSize = params.EvidenceSize
	}
	return now, nil
}

type visitFixture struct {
	store   *visitStoreStub
	storage *storage.LocalStorage
	audit   *auditStub
	emitter *emitterStub
	service *VisitService
	baseDir string
}

func newVisitFixture(t *testing.T, record *models.AssignmentRecord) *visitFixture {
	t.Helper()
	baseDir := t.TempDir()
	store, err := storage.NewLocalStorage(baseDir)
	require.NoError(t, err)

	stub := &visitStoreStub{
		record: record,
		visits: map[models.VisitMilestone]*models.VisitRecord{},
	}
	if record != nil {
		now := time.Now().UTC()
		for i, milestone := range models.Milestones {
			stub.visits[milestone] = &models.VisitRecord{
				ID:            "vis-" + string(milestone),
				AssignmentID:  record.ID,
				Milestone:     milestone,
				ScheduledDate: now.AddDate(0, 0, 15+i*75),
				CreatedAt:     now,
			}
		}
	}

	f := &visitFixture{
		store:   stub,
		storage: store,
		audit:   &auditStub{},
		emitter: &emitterStub{},
		baseDir: baseDir,
	}
	cfg := config.VisitsConfig{
		EvidenceMaxSizeBytes: 5 * 1024 * 1024,
		EvidenceAllowedMIMEs: []string{"application/pdf"},
	}
	signer := storage.NewSignedURLSigner("test_secret", time.Minute)
	f.service = NewVisitService(stub, store, signer, f.audit, f.emitter, nil, cfg, nil)
	return f
}

func activeAssignment(state models.VisitState) *models.AssignmentRecord {
	return &models.AssignmentRecord{
		ID:           "asg-1",
		RequestID:    "req-1",
		InstructorID: "inst-1",
		VisitState:   state,
		Version:      1,
	}
}

func instructorActor() *models.Actor {
	return &models.Actor{UserID: "inst-1", Role: models.RoleInstructor}
}

func TestVisitServiceCompleteAgreement(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateNone))

	visit, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneAgreement,
		Observations:    "agreement signed with the company tutor",
	})
	require.NoError(t, err)
	assert.True(t, visit.Completed())

	require.Len(t, f.store.completions, 1)
	assert.Equal(t, models.VisitStateNone, f.store.completions[0].From)
	assert.Equal(t, models.MilestoneAgreement, f.store.completions[0].Milestone)
	assert.Nil(t, f.store.completions[0].EvidencePath)

	require.Len(t, f.emitter.events, 1)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionCompleteVisit, f.audit.logs[0].Action)
}

func TestVisitServiceCompleteSkipsMilestone(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateNone))

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestonePartialVisit,
		Observations:    "skipping ahead",
	})
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", appErrors.FromError(err).Code)
	assert.Empty(t, f.store.completions)
}

func TestVisitServiceCompleteTerminalLedger(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateFinalVisit))

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "already done",
	})
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", appErrors.FromError(err).Code)
}

func TestVisitServiceCompleteNotResponsible(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateNone))

	actor := &models.Actor{UserID: "inst-2", Role: models.RoleInstructor}
	_, err := f.service.CompleteVisit(context.Background(), actor, "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneAgreement,
		Observations:    "visiting for a colleague",
	})
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestVisitServiceCompleteSuperseded(t *testing.T) {
	record := activeAssignment(models.VisitStateAgreement)
	supersededAt := time.Now().UTC()
	record.SupersededAt = &supersededAt
	f := newVisitFixture(t, record)

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestonePartialVisit,
		Observations:    "follow-up visit",
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appErrors.FromError(err).Code)
}

func TestVisitServiceCompleteFinalRequiresEvidence(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStatePartialVisit))

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "closing the stage",
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
	assert.Empty(t, f.store.completions)
}

func TestVisitServiceCompleteFinalWithEvidence(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStatePartialVisit))

	visit, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "final evaluation delivered",
		Evidence: &dto.EvidenceUpload{
			Filename: "acta-final.pdf",
			MIME:     "application/pdf",
			Content:  []byte("%PDF-1.4 final report"),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, visit.EvidencePath)

	stored := filepath.Join(f.baseDir, *visit.EvidencePath)
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Contains(t, string(data), "final report")

	require.Len(t, f.store.completions, 1)
	require.NotNil(t, f.store.completions[0].EvidenceSize)
	assert.Equal(t, int64(len("%PDF-1.4 final report")), *f.store.completions[0].EvidenceSize)
}

func TestVisitServiceCompleteEvidenceTooLarge(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStatePartialVisit))
	f.service.cfg.EvidenceMaxSizeBytes = 8

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "oversized upload",
		Evidence: &dto.EvidenceUpload{
			MIME:    "application/pdf",
			Content: []byte("this payload is larger than eight bytes"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestVisitServiceCompleteEvidenceWrongMIME(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStatePartialVisit))

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "wrong format",
		Evidence: &dto.EvidenceUpload{
			MIME:    "image/png",
			Content: []byte("not a pdf"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}

func TestVisitServiceCompleteConcurrentLoserCleansEvidence(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStatePartialVisit))
	f.store.completeErr = sql.ErrNoRows

	_, err := f.service.CompleteVisit(context.Background(), instructorActor(), "asg-1", dto.CompleteVisitRequest{
		TargetMilestone: models.MilestoneFinalVisit,
		Observations:    "duplicate submission",
		Evidence: &dto.EvidenceUpload{
			MIME:    "application/pdf",
			Content: []byte("%PDF-1.4 dup"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, "ALREADY_PROCESSED", appErrors.FromError(err).Code)

	_, statErr := os.Stat(filepath.Join(f.baseDir, "asg-1", "final_visit.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestVisitServiceLedger(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateAgreement))

	ledger, err := f.service.Ledger(context.Background(), "asg-1")
	require.NoError(t, err)
	assert.Equal(t, "asg-1", ledger.Assignment.ID)
	assert.Len(t, ledger.Visits, 3)
}

func TestVisitServiceEvidenceLinkRoundTrip(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateFinalVisit))

	stored, err := f.storage.Save("asg-1/final_visit.pdf", []byte("%PDF-1.4 evidence"))
	require.NoError(t, err)
	f.store.visits[models.MilestoneFinalVisit].EvidencePath = &stored

	link, err := f.service.EvidenceLink(context.Background(), "asg-1", models.MilestoneFinalVisit)
	require.NoError(t, err)
	assert.NotEmpty(t, link.Token)

	file, err := f.service.OpenEvidence(link.Token)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	data := make([]byte, 32)
	n, _ := file.Read(data)
	assert.Contains(t, string(data[:n]), "evidence")
}

func TestVisitServiceEvidenceLinkNoDocument(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateAgreement))

	_, err := f.service.EvidenceLink(context.Background(), "asg-1", models.MilestoneAgreement)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestVisitServiceOpenEvidenceTampered(t *testing.T) {
	f := newVisitFixture(t, activeAssignment(models.VisitStateFinalVisit))

	_, err := f.service.OpenEvidence("vis-1.9999999999.invalid.signature")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}
