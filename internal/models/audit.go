package models

import (
	"encoding/json"
	"time"
)

// Audit action identifiers recorded by the workflow engine.
const (
	AuditActionAssign              = "WORKFLOW_ASSIGN"
	AuditActionReassign            = "WORKFLOW_REASSIGN"
	AuditActionInstructorValuation = "WORKFLOW_INSTRUCTOR_VALUATION"
	AuditActionCoordinatorReview   = "WORKFLOW_COORDINATOR_REVIEW"
	AuditActionOperatorConfirm     = "WORKFLOW_OPERATOR_CONFIRM"
	AuditActionCompleteVisit       = "WORKFLOW_COMPLETE_VISIT"
)

// AuditLog records who did what to which resource.
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
