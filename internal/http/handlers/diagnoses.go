package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/facilities"
	"github.com/wolfman30/xray-diagnosis-platform/internal/http/middleware"
	"github.com/wolfman30/xray-diagnosis-platform/internal/inference"
	"github.com/wolfman30/xray-diagnosis-platform/internal/report"
	"github.com/wolfman30/xray-diagnosis-platform/internal/risk"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
	"github.com/wolfman30/xray-diagnosis-platform/internal/workflow"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// DefaultMaxUploadBytes bounds the multipart body of a diagnosis upload.
const DefaultMaxUploadBytes int64 = 20 << 20

// DiagnosisStore reads stored diagnoses and patients.
type DiagnosisStore interface {
	GetByID(ctx context.Context, id string) (*diagnosis.StoredDiagnosis, error)
	ListByPatient(ctx context.Context, userID, patientID string, limit int) ([]*diagnosis.StoredDiagnosis, error)
	GetPatient(ctx context.Context, id string) (*diagnosis.Patient, error)
}

// DiagnosesHandler serves the diagnosis API.
type DiagnosesHandler struct {
	store      DiagnosisStore
	newRun     func() *workflow.Machine
	exporter   *report.Exporter
	facilities *facilities.Service
	maxUpload  int64
	logger     *logging.Logger
}

// NewDiagnosesHandler creates the handler. newRun must return a fresh
// workflow per call; runs are never shared between requests.
func NewDiagnosesHandler(store DiagnosisStore, newRun func() *workflow.Machine, exporter *report.Exporter, suggestions *facilities.Service, logger *logging.Logger) *DiagnosesHandler {
	if store == nil {
		panic("handlers: diagnosis store required")
	}
	if newRun == nil {
		panic("handlers: workflow factory required")
	}
	if exporter == nil {
		panic("handlers: report exporter required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DiagnosesHandler{
		store:      store,
		newRun:     newRun,
		exporter:   exporter,
		facilities: suggestions,
		maxUpload:  DefaultMaxUploadBytes,
		logger:     logger,
	}
}

// WithMaxUploadBytes overrides the upload size limit.
func (h *DiagnosesHandler) WithMaxUploadBytes(n int64) *DiagnosesHandler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

type diagnosisView struct {
	*diagnosis.StoredDiagnosis
	PDFBase64 string `json:"pdf_base64,omitempty"`
	HasReport bool   `json:"has_report"`
}

func viewOf(d *diagnosis.StoredDiagnosis) diagnosisView {
	return diagnosisView{StoredDiagnosis: d, HasReport: d.HasReport()}
}

type diagnosisResponse struct {
	Diagnosis  diagnosisView         `json:"diagnosis"`
	Risk       *risk.Assessment      `json:"risk,omitempty"`
	Facilities []facilities.Facility `json:"facilities,omitempty"`
}

type errorResponse struct {
	Stage  string `json:"stage,omitempty"`
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

// CreateDiagnosis runs one isolated workflow for the uploaded file. The
// patient must belong to the caller.
func (h *DiagnosesHandler) CreateDiagnosis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.UserIDFromContext(ctx)
	patientID := strings.TrimSpace(chi.URLParam(r, "patientID"))
	patient, err := h.store.GetPatient(ctx, patientID)
	if err != nil {
		h.writeLookupError(w, "patient", err)
		return
	}
	if patient.UserID != userID {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "patient not found"})
		return
	}

	file, err := h.readUpload(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	run := h.newRun()
	if _, err := run.SelectFile(ctx, file); err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	stored, err := run.Start(ctx, patientID)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	resp := diagnosisResponse{Diagnosis: viewOf(stored)}
	if snap := run.Snapshot(); snap.Assessment != nil {
		resp.Risk = snap.Assessment
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *DiagnosesHandler) readUpload(w http.ResponseWriter, r *http.Request) (upload.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return upload.File{}, fmt.Errorf("invalid multipart upload: %w", err)
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		return upload.File{}, fmt.Errorf("missing file field: %w", err)
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		return upload.File{}, fmt.Errorf("read upload: %w", err)
	}
	return upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// ListDiagnoses returns the caller's diagnoses for a patient, newest first.
func (h *DiagnosesHandler) ListDiagnoses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.UserIDFromContext(ctx)
	patientID := strings.TrimSpace(chi.URLParam(r, "patientID"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := h.store.ListByPatient(ctx, userID, patientID, limit)
	if err != nil {
		h.logger.Error("list diagnoses failed", "error", err, "patient_id", patientID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list diagnoses"})
		return
	}

	items := make([]diagnosisResponse, 0, len(records))
	for _, rec := range records {
		item := diagnosisResponse{Diagnosis: viewOf(rec)}
		if a, err := rec.Assess(); err == nil {
			item.Risk = &a
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagnoses": items})
}

// GetDiagnosis returns one diagnosis with its risk and, for High risk,
// facility suggestions near the patient.
func (h *DiagnosesHandler) GetDiagnosis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, ok := h.ownedDiagnosis(w, r)
	if !ok {
		return
	}

	resp := diagnosisResponse{Diagnosis: viewOf(record)}
	a, err := record.Assess()
	if err != nil {
		h.logger.Warn("stored diagnosis has invalid score", "diagnosis_id", record.ID, "error", err)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Risk = &a

	if a.RequiresFollowUp() && h.facilities != nil {
		patient, err := h.store.GetPatient(ctx, record.PatientID)
		switch {
		case err != nil:
			h.logger.Warn("facility lookup skipped: patient unavailable", "patient_id", record.PatientID, "error", err)
		default:
			suggestions, err := h.facilities.Suggest(ctx, a, patient.Location)
			if err != nil {
				h.logger.Warn("facility lookup failed", "diagnosis_id", record.ID, "error", err)
			}
			resp.Facilities = suggestions
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportReport streams the diagnosis PDF as a download.
func (h *DiagnosesHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, ok := h.ownedDiagnosis(w, r)
	if !ok {
		return
	}

	patient := diagnosis.Patient{ID: record.PatientID}
	if p, err := h.store.GetPatient(ctx, record.PatientID); err == nil {
		patient = *p
	} else {
		h.logger.Warn("export without patient name", "patient_id", record.PatientID, "error", err)
	}

	if _, err := h.exporter.Export(ctx, record, patient, report.ResponseDelivery{W: w}); err != nil {
		switch {
		case errors.Is(err, report.ErrArtifactUnavailable):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Notice: "No PDF report is available for this diagnosis."})
		case errors.Is(err, report.ErrResponseCommitted):
			h.logger.Warn("report download interrupted", "diagnosis_id", record.ID, "error", err)
		default:
			h.logger.Error("report export failed", "diagnosis_id", record.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Notice: "Failed to export the report."})
		}
	}
}

func (h *DiagnosesHandler) ownedDiagnosis(w http.ResponseWriter, r *http.Request) (*diagnosis.StoredDiagnosis, bool) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "diagnosisID"))
	record, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, "diagnosis", err)
		return nil, false
	}
	if record.UserID != userID {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "diagnosis not found"})
		return nil, false
	}
	return record, true
}

func (h *DiagnosesHandler) writeLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, diagnosis.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: what + " not found"})
		return
	}
	h.logger.Error("lookup failed", "what", what, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
}

func (h *DiagnosesHandler) writeWorkflowError(w http.ResponseWriter, err error) {
	var stageErr *workflow.StageError
	if !errors.As(err, &stageErr) {
		h.logger.Error("workflow error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, statusForStageError(stageErr), errorResponse{
		Stage:  string(stageErr.Stage),
		Error:  stageErr.Err.Error(),
		Notice: stageErr.Notice(),
	})
}

func statusForStageError(e *workflow.StageError) int {
	switch {
	case errors.Is(e, upload.ErrInvalidFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(e, upload.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(e, workflow.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(e, inference.ErrInferenceTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(e, upload.ErrUploadFailed), errors.Is(e, inference.ErrInferenceFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
