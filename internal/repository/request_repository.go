package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
)

// requestColumns maps the legacy table shape onto the canonical entity.
// The contract date columns kept their original Spanish names through the
// platform migration; this alias list is the single place they are
// normalised.
const requestColumns = `r.id, r.apprentice_id, r.apprentice_name, r.program_id, r.program_name,
       r.company_name, r.modality_name, r.state,
       r.fecha_inicio_contrato AS contract_start_date,
       r.fecha_fin_contrato AS contract_end_date,
       r.created_at, r.updated_at`

// RequestRepository persists practice requests and their guarded state
// transitions.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// FindByID loads a single request.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.PracticeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM practice_requests r WHERE r.id = $1`, requestColumns)
	var request models.PracticeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find practice request: %w", err)
	}
	return &request, nil
}

// TransitionState applies a state-guarded transition. sql.ErrNoRows means
// the request was not in the expected source state (either it never was,
// or a concurrent caller already applied the transition).
func (r *RequestRepository) TransitionState(ctx context.Context, id string, from, to models.RequestState) error {
	const query = `UPDATE practice_requests SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("transition practice request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transitioned rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionParams describes a guarded transition that also appends a
// message trail entry, all inside one transaction.
type TransitionParams struct {
	RequestID     string
	From          models.RequestState
	To            models.RequestState
	ContractStart *time.Time
	ContractEnd   *time.Time
	Entry         *models.MessageTrailEntry
}

// TransitionWithMessage flips the request state and appends the trail entry
// atomically. The state mutation and the append are all-or-nothing;
// sql.ErrNoRows signals the guard did not match.
func (r *RequestRepository) TransitionWithMessage(ctx context.Context, params TransitionParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var result sql.Result
	if params.ContractStart != nil || params.ContractEnd != nil {
		const query = `UPDATE practice_requests
SET state = $1, fecha_inicio_contrato = $2, fecha_fin_contrato = $3, updated_at = $4
WHERE id = $5 AND state = $6`
		result, err = tx.ExecContext(ctx, query, params.To, params.ContractStart, params.ContractEnd, now, params.RequestID, params.From)
	} else {
		const query = `UPDATE practice_requests SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`
		result, err = tx.ExecContext(ctx, query, params.To, now, params.RequestID, params.From)
	}
	if err != nil {
		return fmt.Errorf("transition practice request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transitioned rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if params.Entry != nil {
		if err = insertMessageTrailEntry(ctx, tx, params.Entry); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request transition: %w", err)
	}
	return nil
}

// ListReviewQueue returns the coordinator's awaiting-action queue. Requests
// still unassigned never surface; assigned, rejected, and pre-approved ones
// only surface once an instructor-authored trail entry exists.
func (r *RequestRepository) ListReviewQueue(ctx context.Context) ([]models.ReviewQueueItem, error) {
	query := fmt.Sprintf(`
SELECT %s, a.id AS assignment_id, a.instructor_id, i.full_name AS instructor_name
FROM practice_requests r
LEFT JOIN assignment_records a ON a.request_id = r.id AND a.superseded_at IS NULL
LEFT JOIN instructors i ON i.id = a.instructor_id
WHERE r.state <> 'UNASSIGNED'
  AND (r.state NOT IN ('ASSIGNED', 'REJECTED', 'PRE_APPROVED')
       OR EXISTS (SELECT 1 FROM message_trail_entries m WHERE m.request_id = r.id AND m.author_role = 'INSTRUCTOR'))
ORDER BY r.updated_at DESC`, requestColumns)
	var items []models.ReviewQueueItem
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	return items, nil
}
