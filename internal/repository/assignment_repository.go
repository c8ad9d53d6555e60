package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
)

// ErrVersionConflict signals that the optimistic version check on an
// assignment record failed because a concurrent caller got there first.
var ErrVersionConflict = errors.New("assignment record version conflict")

const assignmentColumns = `a.id, a.request_id, a.instructor_id, a.visit_state, a.version,
       a.reassign_reason, a.superseded_by, a.superseded_at, a.created_at`

// AssignmentRepository persists assignment records and their visit ledgers.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// FindByID loads a single assignment record.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.AssignmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_records a WHERE a.id = $1`, assignmentColumns)
	var record models.AssignmentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment record: %w", err)
	}
	return &record, nil
}

// FindActiveByRequest returns the current (non-superseded) record for the
// request, or sql.ErrNoRows when none exists.
func (r *AssignmentRepository) FindActiveByRequest(ctx context.Context, requestID string) (*models.AssignmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_records a
WHERE a.request_id = $1 AND a.superseded_at IS NULL
ORDER BY a.created_at DESC
LIMIT 1`, assignmentColumns)
	var record models.AssignmentRecord
	if err := r.db.GetContext(ctx, &record, query, requestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active assignment: %w", err)
	}
	return &record, nil
}

// ListByRequest returns the full assignment history for a request, newest
// first. Superseded records are retained for audit.
func (r *AssignmentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.AssignmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_records a WHERE a.request_id = $1 ORDER BY a.created_at DESC`, assignmentColumns)
	var records []models.AssignmentRecord
	if err := r.db.SelectContext(ctx, &records, query, requestID); err != nil {
		return nil, fmt.Errorf("list assignment history: %w", err)
	}
	return records, nil
}

// DetailByID enriches an assignment with instructor and apprentice names.
func (r *AssignmentRepository) DetailByID(ctx context.Context, id string) (*models.AssignmentRecordDetail, error) {
	query := fmt.Sprintf(`
SELECT %s, i.full_name AS instructor_name, r.apprentice_name, r.company_name
FROM assignment_records a
JOIN practice_requests r ON r.id = a.request_id
JOIN instructors i ON i.id = a.instructor_id
WHERE a.id = $1`, assignmentColumns)
	var detail models.AssignmentRecordDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment detail: %w", err)
	}
	return &detail, nil
}

// ListVisits returns the assignment's visit ledger in milestone order.
func (r *AssignmentRepository) ListVisits(ctx context.Context, assignmentID string) ([]models.VisitRecord, error) {
	const query = `
SELECT id, assignment_id, milestone, scheduled_date, completed_date, observations,
       evidence_path, evidence_mime, evidence_size, created_at
FROM visit_records
WHERE assignment_id = $1
ORDER BY CASE milestone WHEN 'AGREEMENT' THEN 1 WHEN 'PARTIAL_VISIT' THEN 2 ELSE 3 END`
	var visits []models.VisitRecord
	if err := r.db.SelectContext(ctx, &visits, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list visit ledger: %w", err)
	}
	return visits, nil
}

// FindVisit returns one milestone row of the ledger.
func (r *AssignmentRepository) FindVisit(ctx context.Context, assignmentID string, milestone models.VisitMilestone) (*models.VisitRecord, error) {
	const query = `
SELECT id, assignment_id, milestone, scheduled_date, completed_date, observations,
       evidence_path, evidence_mime, evidence_size, created_at
FROM visit_records
WHERE assignment_id = $1 AND milestone = $2`
	var visit models.VisitRecord
	if err := r.db.GetContext(ctx, &visit, query, assignmentID, milestone); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find visit record: %w", err)
	}
	return &visit, nil
}

// PlannedVisit seeds one pre-provisioned ledger row.
type PlannedVisit struct {
	Milestone     models.VisitMilestone
	ScheduledDate time.Time
}

// CreateWithVisits creates the assignment record, pre-provisions its visit
// ledger, and moves the request out of UNASSIGNED, all in one transaction.
// sql.ErrNoRows signals the request was not in UNASSIGNED.
func (r *AssignmentRepository) CreateWithVisits(ctx context.Context, record *models.AssignmentRecord, visits []PlannedVisit) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const guardQuery = `UPDATE practice_requests SET state = 'ASSIGNED', updated_at = $1 WHERE id = $2 AND state = 'UNASSIGNED'`
	result, err := tx.ExecContext(ctx, guardQuery, now, record.RequestID)
	if err != nil {
		return fmt.Errorf("mark request assigned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check assigned rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertAssignment(ctx, tx, record, now); err != nil {
		return err
	}
	if err = insertVisits(ctx, tx, record.ID, visits, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment create: %w", err)
	}
	return nil
}

// SupersedeParams describes a reassignment.
type SupersedeParams struct {
	CurrentID       string
	ExpectedVersion int64
	Replacement     *models.AssignmentRecord
	Visits          []PlannedVisit
}

// Supersede marks the current record superseded and creates the
// replacement with a fresh ledger, atomically. ErrVersionConflict is
// returned when the version predicate does not match — either the caller
// read stale state or a concurrent reassignment won.
func (r *AssignmentRepository) Supersede(ctx context.Context, params SupersedeParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reassignment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if params.Replacement.ID == "" {
		params.Replacement.ID = uuid.NewString()
	}

	const supersedeQuery = `UPDATE assignment_records
SET superseded_by = $1, superseded_at = $2, version = version + 1
WHERE id = $3 AND superseded_at IS NULL AND version = $4`
	result, err := tx.ExecContext(ctx, supersedeQuery, params.Replacement.ID, now, params.CurrentID, params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("supersede assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check superseded rows: %w", err)
	}
	if affected == 0 {
		err = ErrVersionConflict
		return err
	}

	if err = insertAssignment(ctx, tx, params.Replacement, now); err != nil {
		return err
	}
	if err = insertVisits(ctx, tx, params.Replacement.ID, params.Visits, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reassignment: %w", err)
	}
	return nil
}

// VisitCompletion carries the mutable fields of a closing milestone.
type VisitCompletion struct {
	AssignmentID string
	From         models.VisitState
	Milestone    models.VisitMilestone
	Observations string
	EvidencePath *string
	EvidenceMIME *string
	EvidenceSize *int64
}

// CompleteVisit closes the milestone row and advances the assignment's
// visit state in one transaction. The visit-state predicate serialises
// concurrent completions: sql.ErrNoRows means the assignment was not in
// the expected state (or was superseded meanwhile).
func (r *AssignmentRepository) CompleteVisit(ctx context.Context, params VisitCompletion) (completedAt time.Time, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin visit completion: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const advanceQuery = `UPDATE assignment_records
SET visit_state = $1, version = version + 1
WHERE id = $2 AND visit_state = $3 AND superseded_at IS NULL`
	result, err := tx.ExecContext(ctx, advanceQuery, params.Milestone.State(), params.AssignmentID, params.From)
	if err != nil {
		return time.Time{}, fmt.Errorf("advance visit state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("check advanced rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return time.Time{}, err
	}

	const closeQuery = `UPDATE visit_records
SET completed_date = $1, observations = $2, evidence_path = $3, evidence_mime = $4, evidence_size = $5
WHERE assignment_id = $6 AND milestone = $7 AND completed_date IS NULL`
	result, err = tx.ExecContext(ctx, closeQuery, now, params.Observations, params.EvidencePath, params.EvidenceMIME, params.EvidenceSize, params.AssignmentID, params.Milestone)
	if err != nil {
		return time.Time{}, fmt.Errorf("close visit record: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("check closed rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return time.Time{}, err
	}

	if err = tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit visit completion: %w", err)
	}
	return now, nil
}

func insertAssignment(ctx context.Context, tx *sqlx.Tx, record *models.AssignmentRecord, now time.Time) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.VisitState = models.VisitStateNone
	record.Version = 1
	record.CreatedAt = now
	const query = `INSERT INTO assignment_records (id, request_id, instructor_id, visit_state, version, reassign_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, query, record.ID, record.RequestID, record.InstructorID, record.VisitState, record.Version, record.ReassignReason, record.CreatedAt); err != nil {
		return fmt.Errorf("insert assignment record: %w", err)
	}
	return nil
}

func insertVisits(ctx context.Context, tx *sqlx.Tx, assignmentID string, visits []PlannedVisit, now time.Time) error {
	const query = `INSERT INTO visit_records (id, assignment_id, milestone, scheduled_date, created_at)
VALUES ($1, $2, $3, $4, $5)`
	for _, visit := range visits {
		if _, err := tx.ExecContext(ctx, query, uuid.NewString(), assignmentID, visit.Milestone, visit.ScheduledDate, now); err != nil {
			return fmt.Errorf("insert visit record %s: %w", visit.Milestone, err)
		}
	}
	return nil
}
