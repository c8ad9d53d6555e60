package service

import (
	"time"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/repository"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
)

// VisitPlanner produces the recommended dates for the three visit
// milestones of a new assignment. The platform's scheduling system can be
// plugged in here; the default derives dates from configured offsets.
type VisitPlanner interface {
	PlanVisits(assignedAt time.Time) []repository.PlannedVisit
}

type offsetPlanner struct {
	agreementDays int
	partialDays   int
	finalDays     int
}

// NewOffsetPlanner builds the default planner from configuration.
func NewOffsetPlanner(cfg config.VisitsConfig) VisitPlanner {
	p := &offsetPlanner{
		agreementDays: cfg.AgreementOffsetDays,
		partialDays:   cfg.PartialVisitOffsetDays,
		finalDays:     cfg.FinalVisitOffsetDays,
	}
	if p.agreementDays <= 0 {
		p.agreementDays = 15
	}
	if p.partialDays <= p.agreementDays {
		p.partialDays = p.agreementDays + 75
	}
	if p.finalDays <= p.partialDays {
		p.finalDays = p.partialDays + 80
	}
	return p
}

func (p *offsetPlanner) PlanVisits(assignedAt time.Time) []repository.PlannedVisit {
	return []repository.PlannedVisit{
		{Milestone: models.MilestoneAgreement, ScheduledDate: assignedAt.AddDate(0, 0, p.agreementDays)},
		{Milestone: models.MilestonePartialVisit, ScheduledDate: assignedAt.AddDate(0, 0, p.partialDays)},
		{Milestone: models.MilestoneFinalVisit, ScheduledDate: assignedAt.AddDate(0, 0, p.finalDays)},
	}
}
