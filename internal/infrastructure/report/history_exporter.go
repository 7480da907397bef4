package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// Sheet names of the exported workbook
const (
	SheetSummary       = "Summary"
	SheetNodes         = "Nodes"
	SheetHistory       = "History"
	SheetNotifications = "Notifications"
)

const timeLayout = "2006-01-02 15:04:05"

// HistoryExporter writes an instance and its audit trail to an XLSX workbook
type HistoryExporter struct {
	location *time.Location
	logger   *zap.Logger
}

// NewHistoryExporter creates an exporter that prints times in loc (UTC when nil)
func NewHistoryExporter(loc *time.Location, logger *zap.Logger) *HistoryExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryExporter{location: loc, logger: logger}
}

// Export renders the workbook and returns its bytes
func (e *HistoryExporter) Export(inst *entity.WorkflowInstance, history []*entity.ApprovalHistory, notifications []*entity.NotificationRecord) ([]byte, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetNodes, SheetHistory, SheetNotifications} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.writeSummary(f, header, inst); err != nil {
		return nil, err
	}
	if err := e.writeNodes(f, header, inst); err != nil {
		return nil, err
	}
	if err := e.writeHistory(f, header, history); err != nil {
		return nil, err
	}
	if err := e.writeNotifications(f, header, notifications); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Audit trail exported",
		zap.String("instance_id", inst.ID),
		zap.Int("history_rows", len(history)),
		zap.Int("notification_rows", len(notifications)))
	return buf.Bytes(), nil
}

func (e *HistoryExporter) writeSummary(f *excelize.File, header int, inst *entity.WorkflowInstance) error {
	md := inst.Metadata
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Instance ID", inst.ID},
		{"Graph", inst.GraphID},
		{"Graph Revision", inst.GraphRef},
		{"Payment Request", inst.PaymentRequestID},
		{"Organization", md.OrganizationName},
		{"Requester", md.RequesterName},
		{"Amount", md.Amount},
		{"Currency", md.Currency},
		{"Category", md.Category},
		{"Description", md.Description},
		{"Status", inst.Status.String()},
		{"Failure Reason", inst.FailureReason},
		{"Created At", e.format(&inst.CreatedAt)},
		{"Completed At", e.format(inst.CompletedAt)},
	}
	return e.writeTable(f, SheetSummary, header, rows, []float64{20, 48})
}

func (e *HistoryExporter) writeNodes(f *excelize.File, header int, inst *entity.WorkflowInstance) error {
	ids := make([]string, 0, len(inst.NodeStates))
	for id := range inst.NodeStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := [][]interface{}{
		{"Node", "Status", "Result", "Decided By", "Comments", "Assignees", "Reminders", "Started At", "Completed At", "Error"},
	}
	for _, id := range ids {
		ns := inst.NodeStates[id]
		rows = append(rows, []interface{}{
			id,
			ns.Status.String(),
			ns.Result,
			ns.DecidedBy,
			ns.Comments,
			strings.Join(ns.Assignees, ", "),
			ns.RemindersSent,
			e.format(ns.StartedAt),
			e.format(ns.CompletedAt),
			ns.Error,
		})
	}
	return e.writeTable(f, SheetNodes, header, rows, []float64{16, 12, 16, 14, 30, 24, 10, 20, 20, 30})
}

func (e *HistoryExporter) writeHistory(f *excelize.File, header int, history []*entity.ApprovalHistory) error {
	rows := [][]interface{}{
		{"Time", "Action", "Node", "Actor", "From", "To", "Details"},
	}
	for _, h := range history {
		rows = append(rows, []interface{}{
			e.format(&h.Timestamp),
			h.ActionType,
			h.NodeID,
			h.ActorID,
			h.PreviousStatus,
			h.NewStatus,
			h.ActionData,
		})
	}
	return e.writeTable(f, SheetHistory, header, rows, []float64{20, 22, 16, 14, 12, 12, 40})
}

func (e *HistoryExporter) writeNotifications(f *excelize.File, header int, records []*entity.NotificationRecord) error {
	rows := [][]interface{}{
		{"Time", "Intent", "Node", "Recipient", "Status", "Error"},
	}
	for _, n := range records {
		rows = append(rows, []interface{}{
			e.format(&n.CreatedAt),
			n.Intent,
			n.NodeID,
			n.RecipientID,
			n.Status,
			n.ErrorMessage,
		})
	}
	return e.writeTable(f, SheetNotifications, header, rows, []float64{20, 18, 16, 14, 10, 40})
}

// writeTable writes rows starting at A1, styles the first row and sets column widths
func (e *HistoryExporter) writeTable(f *excelize.File, sheet string, header int, rows [][]interface{}, widths []float64) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			e.logger.Warn("Failed to set column width", zap.String("sheet", sheet), zap.Error(err))
		}
	}
	return nil
}

func (e *HistoryExporter) format(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(e.location).Format(timeLayout)
}
