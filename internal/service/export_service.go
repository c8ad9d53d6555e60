package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/export"
	"github.com/etapa-dev/sgp-workflow-api/pkg/storage"
)

type assignmentDetailStore interface {
	DetailByID(ctx context.Context, id string) (*models.AssignmentRecordDetail, error)
	ListVisits(ctx context.Context, assignmentID string) ([]models.VisitRecord, error)
}

// ExportResult describes a rendered follow-up summary ready for download.
type ExportResult struct {
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExportService renders an assignment's follow-up summary (instructor,
// apprentice, visit ledger) to CSV or PDF and hands out signed download
// links. Files live on local disk and are cleaned up on a timer.
type ExportService struct {
	assignments assignmentDetailStore
	storage     *storage.LocalStorage
	signer      *storage.SignedURLSigner
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	cfg         config.ExportsConfig
	logger      *zap.Logger
	stopCleanup chan struct{}
}

// NewExportService constructs the service.
func NewExportService(
	assignments assignmentDetailStore,
	store *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	cfg config.ExportsConfig,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		assignments: assignments,
		storage:     store,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		cfg:         cfg,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
}

// FollowUpSummary renders the assignment's follow-up report in the given
// format, stores it, and returns a signed download link.
func (s *ExportService) FollowUpSummary(ctx context.Context, assignmentID, format string) (*ExportResult, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exports are disabled")
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	detail, err := s.assignments.DetailByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment detail")
	}
	visits, err := s.assignments.ListVisits(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list visit ledger")
	}

	dataset := buildFollowUpDataset(detail, visits)
	title := fmt.Sprintf("Follow-up summary - %s", detail.ApprenticeName)

	var content []byte
	switch format {
	case "csv":
		content, err = s.csv.Render(dataset)
	case "pdf":
		content, err = s.pdf.Render(dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("%s/follow-up-%s.%s", assignmentID, uuid.NewString(), format)
	stored, err := s.storage.Save(filename, content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(assignmentID, stored)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	return &ExportResult{Filename: stored, Format: format, Token: token, ExpiresAt: expiresAt}, nil
}

// Open resolves a signed export token and opens the rendered file.
func (s *ExportService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export link is invalid or expired")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// StartCleanup launches the periodic removal of expired export files.
func (s *ExportService) StartCleanup() {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := s.storage.CleanupOlderThan(s.cfg.SignedURLTTL)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("removed expired export files", zap.Int("count", len(deleted)))
				}
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup halts the cleanup loop.
func (s *ExportService) StopCleanup() {
	close(s.stopCleanup)
}

func buildFollowUpDataset(detail *models.AssignmentRecordDetail, visits []models.VisitRecord) export.Dataset {
	headers := []string{"Milestone", "Scheduled", "Completed", "Observations", "Evidence"}
	rows := make([]map[string]string, 0, len(visits)+1)
	rows = append(rows, map[string]string{
		"Milestone":    "ASSIGNMENT",
		"Scheduled":    detail.CreatedAt.Format("2006-01-02"),
		"Completed":    "",
		"Observations": fmt.Sprintf("Instructor %s / Apprentice %s @ %s", detail.InstructorName, detail.ApprenticeName, detail.CompanyName),
		"Evidence":     "",
	})
	for _, visit := range visits {
		row := map[string]string{
			"Milestone": string(visit.Milestone),
			"Scheduled": visit.ScheduledDate.Format("2006-01-02"),
		}
		if visit.CompletedDate != nil {
			row["Completed"] = visit.CompletedDate.Format("2006-01-02")
		}
		if visit.Observations != nil {
			row["Observations"] = *visit.Observations
		}
		if visit.EvidencePath != nil {
			row["Evidence"] = "attached"
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
