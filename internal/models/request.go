package models

import "time"

// RequestState enumerates the lifecycle states of a practice request.
type RequestState string

const (
	RequestStateUnassigned  RequestState = "UNASSIGNED"
	RequestStateAssigned    RequestState = "ASSIGNED"
	RequestStateReviewing   RequestState = "REVIEWING"
	RequestStatePreApproved RequestState = "PRE_APPROVED"
	RequestStateApproved    RequestState = "APPROVED"
	RequestStateRejected    RequestState = "REJECTED"
)

// Valid reports whether the state is one of the known lifecycle states.
func (s RequestState) Valid() bool {
	switch s {
	case RequestStateUnassigned, RequestStateAssigned, RequestStateReviewing,
		RequestStatePreApproved, RequestStateApproved, RequestStateRejected:
		return true
	default:
		return false
	}
}

// PracticeRequest is an apprentice's productive-stage enrollment request.
// Apprentice and program metadata are immutable; only State, the contract
// dates, and UpdatedAt change through the workflow.
type PracticeRequest struct {
	ID                string       `db:"id" json:"id"`
	ApprenticeID      string       `db:"apprentice_id" json:"apprentice_id"`
	ApprenticeName    string       `db:"apprentice_name" json:"apprentice_name"`
	ProgramID         string       `db:"program_id" json:"program_id"`
	ProgramName       string       `db:"program_name" json:"program_name"`
	CompanyName       string       `db:"company_name" json:"company_name"`
	ModalityName      string       `db:"modality_name" json:"modality_name"`
	State             RequestState `db:"state" json:"state"`
	ContractStartDate *time.Time   `db:"contract_start_date" json:"contract_start_date,omitempty"`
	ContractEndDate   *time.Time   `db:"contract_end_date" json:"contract_end_date,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// ReviewQueueItem is a request row surfaced on the coordinator queue,
// enriched with the current assignment.
type ReviewQueueItem struct {
	PracticeRequest
	AssignmentID   *string `db:"assignment_id" json:"assignment_id,omitempty"`
	InstructorID   *string `db:"instructor_id" json:"instructor_id,omitempty"`
	InstructorName *string `db:"instructor_name" json:"instructor_name,omitempty"`
}
