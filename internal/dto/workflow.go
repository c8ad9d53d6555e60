package dto

import "github.com/etapa-dev/sgp-workflow-api/internal/models"

// AssignRequest binds an instructor to an unassigned practice request.
type AssignRequest struct {
	InstructorID string `json:"instructor_id" validate:"required"`
}

// ReassignRequest replaces the responsible instructor mid-flow. The
// expected version comes from the caller's last read of the assignment and
// backs the optimistic concurrency check.
type ReassignRequest struct {
	NewInstructorID string `json:"new_instructor_id" validate:"required"`
	Reason          string `json:"reason" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

// ValuationOutcome is the instructor's verdict on a request.
type ValuationOutcome string

const (
	OutcomeApprove ValuationOutcome = "APPROVE"
	OutcomeReject  ValuationOutcome = "REJECT"
)

// InstructorValuationRequest records the instructor's valuation and moves
// the request into coordinator review.
type InstructorValuationRequest struct {
	Outcome ValuationOutcome `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
	Message string           `json:"message" validate:"required"`
}

// CoordinatorReviewRequest is the coordinator's decision. Dates are only
// required (and only read) for the APPROVE outcome; they use ISO layout
// YYYY-MM-DD.
type CoordinatorReviewRequest struct {
	Outcome   ValuationOutcome `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
	Message   string           `json:"message" validate:"required"`
	StartDate string           `json:"start_date,omitempty"`
	EndDate   string           `json:"end_date,omitempty"`
}

// EvidenceUpload carries an uploaded evidence document.
type EvidenceUpload struct {
	Filename string
	MIME     string
	Size     int64
	Content  []byte
}

// CompleteVisitRequest closes the next milestone of an assignment's visit
// ledger. Evidence is mandatory when closing into the final visit.
type CompleteVisitRequest struct {
	TargetMilestone models.VisitMilestone `json:"target_milestone" validate:"required"`
	Observations    string                `json:"observations" validate:"required"`
	Evidence        *EvidenceUpload       `json:"-"`
}

// FollowUpExportRequest selects the rendering format for an assignment's
// follow-up summary.
type FollowUpExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}
