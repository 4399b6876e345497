package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/export"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

const (
	historyExportPageSize = 100
	historyExportMaxRows  = 10000
)

// HistoryExport is a rendered history file.
type HistoryExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// HistoryExportService renders transition history as CSV or PDF.
type HistoryExportService struct {
	history historyLister
	logger  *zap.Logger
	now     func() time.Time
}

// NewHistoryExportService constructs the service.
func NewHistoryExportService(history historyLister, logger *zap.Logger) *HistoryExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryExportService{history: history, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Export renders every record matching filter, newest first.
func (s *HistoryExportService) Export(ctx context.Context, filter models.TransitionHistoryFilter, format string) (*HistoryExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if err := validateHistoryFilter(filter); err != nil {
		return nil, err
	}

	entries, err := s.collect(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transition history")
	}
	data := historyDataset(entries)

	stamp := s.now().Format("20060102-150405")
	var out *HistoryExport
	switch format {
	case "pdf":
		body, err := export.RenderPDF(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		out = &HistoryExport{Filename: fmt.Sprintf("transition-history-%s.pdf", stamp), ContentType: "application/pdf", Body: body}
	default:
		body, err := export.RenderCSV(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		out = &HistoryExport{Filename: fmt.Sprintf("transition-history-%s.csv", stamp), ContentType: "text/csv", Body: body}
	}

	logger.WithContext(ctx, s.logger).Info("transition history exported",
		zap.String("trainer_id", filter.TrainerID), zap.String("format", format), zap.Int("rows", len(entries)))
	return out, nil
}

func (s *HistoryExportService) collect(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, error) {
	filter.PageSize = historyExportPageSize
	var all []models.TransitionHistoryEntry
	for page := 1; ; page++ {
		filter.Page = page
		entries, total, err := s.history.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if len(entries) < historyExportPageSize || len(all) >= total || len(all) >= historyExportMaxRows {
			break
		}
	}
	if len(all) > historyExportMaxRows {
		all = all[:historyExportMaxRows]
	}
	return all, nil
}

func historyDataset(entries []models.TransitionHistoryEntry) export.Dataset {
	data := export.Dataset{
		Title: "Transition history",
		Columns: []export.Column{
			{Key: "created_at", Header: "Recorded", Width: 1.4},
			{Key: "student", Header: "Student", Width: 1.6},
			{Key: "event", Header: "Event"},
			{Key: "reason", Header: "Reason", Width: 1.3},
			{Key: "transition", Header: "Transition"},
			{Key: "was_active", Header: "Was active", Width: 0.8},
			{Key: "reactivatable", Header: "Reactivatable", Width: 0.9},
			{Key: "deactivated_at", Header: "Deactivated", Width: 1.4},
		},
		Rows: make([]map[string]string, 0, len(entries)),
	}
	for _, e := range entries {
		row := map[string]string{
			"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
			"student":       e.StudentName,
			"event":         string(e.Event),
			"reason":        string(e.Reason),
			"was_active":    yesNo(e.WasActive),
			"reactivatable": yesNo(e.CanBeReactivated),
		}
		if e.TransitionType != nil {
			row["transition"] = string(*e.TransitionType)
		}
		if e.DeactivatedAt != nil {
			row["deactivated_at"] = e.DeactivatedAt.UTC().Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
