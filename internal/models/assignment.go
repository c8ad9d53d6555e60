package models

import "time"

// VisitState tracks how far an assignment's visit ledger has progressed.
type VisitState string

const (
	VisitStateNone         VisitState = "NONE"
	VisitStateAgreement    VisitState = "AGREEMENT"
	VisitStatePartialVisit VisitState = "PARTIAL_VISIT"
	VisitStateFinalVisit   VisitState = "FINAL_VISIT"
)

// VisitMilestone identifies one of the three fixed visit stages.
type VisitMilestone string

const (
	MilestoneAgreement    VisitMilestone = "AGREEMENT"
	MilestonePartialVisit VisitMilestone = "PARTIAL_VISIT"
	MilestoneFinalVisit   VisitMilestone = "FINAL_VISIT"
)

// Milestones lists the visit stages in completion order.
var Milestones = []VisitMilestone{MilestoneAgreement, MilestonePartialVisit, MilestoneFinalVisit}

// Next returns the milestone that must be completed from this state.
// ok is false once the ledger is terminal.
func (s VisitState) Next() (VisitMilestone, bool) {
	switch s {
	case VisitStateNone:
		return MilestoneAgreement, true
	case VisitStateAgreement:
		return MilestonePartialVisit, true
	case VisitStatePartialVisit:
		return MilestoneFinalVisit, true
	default:
		return "", false
	}
}

// State returns the visit state reached once the milestone is completed.
func (m VisitMilestone) State() VisitState {
	return VisitState(m)
}

// Valid reports whether the milestone is one of the three fixed stages.
func (m VisitMilestone) Valid() bool {
	switch m {
	case MilestoneAgreement, MilestonePartialVisit, MilestoneFinalVisit:
		return true
	default:
		return false
	}
}

// AssignmentRecord binds one instructor to one practice request. Records are
// append-only: reassignment supersedes the current record instead of
// mutating it, so the full history stays auditable. Version backs the
// optimistic check on supersession.
type AssignmentRecord struct {
	ID             string     `db:"id" json:"id"`
	RequestID      string     `db:"request_id" json:"request_id"`
	InstructorID   string     `db:"instructor_id" json:"instructor_id"`
	VisitState     VisitState `db:"visit_state" json:"visit_state"`
	Version        int64      `db:"version" json:"version"`
	ReassignReason *string    `db:"reassign_reason" json:"reassign_reason,omitempty"`
	SupersededBy   *string    `db:"superseded_by" json:"superseded_by,omitempty"`
	SupersededAt   *time.Time `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether this record is the current binding for its request.
func (a *AssignmentRecord) Active() bool {
	return a != nil && a.SupersededAt == nil
}

// AssignmentRecordDetail enriches an assignment with descriptive fields.
type AssignmentRecordDetail struct {
	AssignmentRecord
	InstructorName string `db:"instructor_name" json:"instructor_name"`
	ApprenticeName string `db:"apprentice_name" json:"apprentice_name"`
	CompanyName    string `db:"company_name" json:"company_name"`
}

// VisitRecord is one milestone row of an assignment's visit ledger. All
// three rows are pre-provisioned with a recommended date when the
// assignment is created; completion fills the nullable fields.
type VisitRecord struct {
	ID            string         `db:"id" json:"id"`
	AssignmentID  string         `db:"assignment_id" json:"assignment_id"`
	Milestone     VisitMilestone `db:"milestone" json:"milestone"`
	ScheduledDate time.Time      `db:"scheduled_date" json:"scheduled_date"`
	CompletedDate *time.Time     `db:"completed_date" json:"completed_date,omitempty"`
	Observations  *string        `db:"observations" json:"observations,omitempty"`
	EvidencePath  *string        `db:"evidence_path" json:"evidence_path,omitempty"`
	EvidenceMIME  *string        `db:"evidence_mime" json:"evidence_mime,omitempty"`
	EvidenceSize  *int64         `db:"evidence_size" json:"evidence_size,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Completed reports whether the milestone has been closed.
func (v *VisitRecord) Completed() bool {
	return v != nil && v.CompletedDate != nil
}
