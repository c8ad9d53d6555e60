package models

import "time"

// MessageType classifies message trail entries.
type MessageType string

const (
	MessageTypeApproved MessageType = "APPROVED"
	MessageTypeRejected MessageType = "REJECTED"
	MessageTypeInfo     MessageType = "INFO"
)

// MessageTrailEntry is an immutable, role-tagged note attached to a
// practice request. Entries are append-only; an instructor-authored entry
// is what surfaces a request on the coordinator queue.
type MessageTrailEntry struct {
	ID          string      `db:"id" json:"id"`
	RequestID   string      `db:"request_id" json:"request_id"`
	AuthorID    string      `db:"author_id" json:"author_id"`
	AuthorRole  UserRole    `db:"author_role" json:"author_role"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	Content     string      `db:"content" json:"content"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}
