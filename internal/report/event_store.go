package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
)

// EventStore appends export events.
type EventStore interface {
	AppendExport(ctx context.Context, event diagnosis.ExportEvent, data ReportData) error
}

// ReportData is the snapshot stored in reports.report_data.
type ReportData struct {
	Patient     diagnosis.Patient         `json:"patient"`
	Diagnosis   diagnosis.StoredDiagnosis `json:"diagnosis"`
	FileName    string                    `json:"file_name"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// SQLEventStore writes export events into the reports table.
type SQLEventStore struct {
	db *sql.DB
}

// NewSQLEventStore creates an event store.
func NewSQLEventStore(db *sql.DB) *SQLEventStore {
	return &SQLEventStore{db: db}
}

// AppendExport inserts one reports row. Single statement, no transaction.
func (s *SQLEventStore) AppendExport(ctx context.Context, event diagnosis.ExportEvent, data ReportData) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ExportedAt.IsZero() {
		event.ExportedAt = time.Now().UTC()
	}

	// The artifacts are already on the diagnosis row.
	data.Diagnosis.PDFBase64 = ""
	data.Diagnosis.HeatmapBase64 = ""
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("report: marshal report data: %w", err)
	}

	query := `
		INSERT INTO reports (id, user_id, diagnosis_id, patient_info_id, report_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.DiagnosisID,
		event.PatientID,
		payload,
		event.ExportedAt,
	); err != nil {
		return fmt.Errorf("report: insert export event: %w", err)
	}
	return nil
}
