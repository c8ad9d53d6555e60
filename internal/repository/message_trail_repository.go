package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
)

// MessageTrailRepository persists the append-only message trail.
type MessageTrailRepository struct {
	db *sqlx.DB
}

// NewMessageTrailRepository constructs the repository.
func NewMessageTrailRepository(db *sqlx.DB) *MessageTrailRepository {
	return &MessageTrailRepository{db: db}
}

// ListByRequest returns a request's trail in chronological order.
func (r *MessageTrailRepository) ListByRequest(ctx context.Context, requestID string) ([]models.MessageTrailEntry, error) {
	const query = `
SELECT id, request_id, author_id, author_role, message_type, content, created_at
FROM message_trail_entries
WHERE request_id = $1
ORDER BY created_at ASC`
	var entries []models.MessageTrailEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list message trail: %w", err)
	}
	return entries, nil
}

// Append stores a standalone trail entry outside of a transition
// transaction (operator notes, reassignment annotations).
func (r *MessageTrailRepository) Append(ctx context.Context, entry *models.MessageTrailEntry) error {
	return insertMessageTrailEntry(ctx, r.db, entry)
}

// HasInstructorEntry reports whether the request carries at least one
// instructor-authored entry.
func (r *MessageTrailRepository) HasInstructorEntry(ctx context.Context, requestID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM message_trail_entries WHERE request_id = $1 AND author_role = 'INSTRUCTOR')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, requestID); err != nil {
		return false, fmt.Errorf("check instructor entry: %w", err)
	}
	return exists, nil
}

// insertMessageTrailEntry appends an entry via any executor so transition
// transactions can share the statement.
func insertMessageTrailEntry(ctx context.Context, ext sqlx.ExtContext, entry *models.MessageTrailEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO message_trail_entries (id, request_id, author_id, author_role, message_type, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := ext.ExecContext(ctx, query, entry.ID, entry.RequestID, entry.AuthorID, entry.AuthorRole, entry.MessageType, entry.Content, entry.CreatedAt); err != nil {
		return fmt.Errorf("append message trail entry: %w", err)
	}
	return nil
}
