// Package report turns a stored diagnosis into a downloadable PDF and keeps a
// best-effort audit trail of exports.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/observability/metrics"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

var reportTracer = otel.Tracer("xray.internal.report")

// Identity resolves the acting user, if any.
type Identity interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// Exporter materializes PDF artifacts.
type Exporter struct {
	events   EventStore
	identity Identity
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
	logger   *logging.Logger
}

// NewExporter creates an exporter. events and identity may be nil, in which
// case exports succeed without being recorded.
func NewExporter(events EventStore, identity Identity, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Exporter{
		events:   events,
		identity: identity,
		now:      time.Now,
		logger:   logger,
	}
}

// WithMetrics attaches pipeline metrics.
func (e *Exporter) WithMetrics(m *metrics.PipelineMetrics) *Exporter {
	e.metrics = m
	return e
}

// WithClock overrides the clock used for file names and event timestamps.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	if now != nil {
		e.now = now
	}
	return e
}

// FileName builds diagnosis_{patientFullName}_{unixMillis}.pdf.
func FileName(patientFullName string, at time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, strings.TrimSpace(patientFullName))
	if name == "" {
		name = "patient"
	}
	return fmt.Sprintf("diagnosis_%s_%d.pdf", name, at.UnixMilli())
}

// Export decodes the record's PDF artifact and hands it to delivery.
// On success one export event is appended when the acting user is known;
// failing to record it does not fail the export.
func (e *Exporter) Export(ctx context.Context, record *diagnosis.StoredDiagnosis, patient diagnosis.Patient, delivery Delivery) (*LocalFileHandle, error) {
	if !record.HasReport() {
		e.metrics.ObserveExport("unavailable")
		return nil, ErrArtifactUnavailable
	}
	if delivery == nil {
		e.metrics.ObserveExport("failed")
		return nil, fmt.Errorf("%w: no delivery target", ErrExportFailed)
	}

	ctx, span := reportTracer.Start(ctx, "report.export")
	defer span.End()
	span.SetAttributes(
		attribute.String("xray.diagnosis_id", record.ID),
		attribute.String("xray.patient_id", patient.ID),
	)

	data, err := DecodeArtifact(record.PDFBase64)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveExport("failed")
		return nil, fmt.Errorf("%w: decode artifact: %w", ErrExportFailed, err)
	}

	now := e.now().UTC()
	name := FileName(patient.FullName, now)
	handle, err := delivery.Deliver(ctx, name, data)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveExport("failed")
		return nil, fmt.Errorf("%w: deliver %s: %w", ErrExportFailed, name, err)
	}
	if handle != nil && handle.Name != "" {
		name = handle.Name
	}
	e.metrics.ObserveExport("delivered")
	e.logger.Info("report exported", "diagnosis_id", record.ID, "file", name, "size", len(data))

	e.recordEvent(ctx, record, patient, name, now)
	return handle, nil
}

func (e *Exporter) recordEvent(ctx context.Context, record *diagnosis.StoredDiagnosis, patient diagnosis.Patient, name string, at time.Time) {
	if e.events == nil || e.identity == nil {
		return
	}
	userID, ok := e.identity.CurrentUser(ctx)
	if !ok || userID == "" {
		e.logger.Debug("export event skipped: no current user", "diagnosis_id", record.ID)
		return
	}

	event := diagnosis.ExportEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		DiagnosisID: record.ID,
		PatientID:   record.PatientID,
		FileName:    name,
		ExportedAt:  at,
	}
	data := ReportData{
		Patient:     patient,
		Diagnosis:   *record,
		FileName:    name,
		GeneratedAt: at,
	}
	if err := e.events.AppendExport(ctx, event, data); err != nil {
		e.logger.Warn("failed to record export event", "error", err, "diagnosis_id", record.ID)
		return
	}
	e.metrics.ObserveExport("recorded")
}
