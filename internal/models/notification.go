package models

import "time"

// WorkflowEvent is published after every successful workflow transition.
// Delivery transports (socket, push, email) are external collaborators;
// the engine only guarantees at-least-once emission after commit.
type WorkflowEvent struct {
	SubjectRole UserRole  `json:"subject_role"`
	SubjectID   string    `json:"subject_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}
