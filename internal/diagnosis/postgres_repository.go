package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var diagnosisTracer = otel.Tracer("xray.internal.diagnosis")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores diagnoses and reads patient_info rows.
type PostgresRepository struct {
	pool rowQuerier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("diagnosis: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithExec(exec rowQuerier) *PostgresRepository {
	if exec == nil {
		panic("diagnosis: exec required")
	}
	return &PostgresRepository{pool: exec}
}

// predictionsColumn is the JSON stored in diagnoses.predictions.
type predictionsColumn struct {
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
	TopLabel string    `json:"top_label"`
	TopScore float64   `json:"top_score"`
}

// Persist inserts one diagnosis row and returns the stored record.
// A prediction without a top label/score is rejected before touching the database.
func (r *PostgresRepository) Persist(ctx context.Context, asset UploadedAsset, prediction PredictionRecord, userID, patientID string) (*StoredDiagnosis, error) {
	if err := prediction.Validate(); err != nil {
		return nil, err
	}

	ctx, span := diagnosisTracer.Start(ctx, "diagnosis.persist")
	defer span.End()
	span.SetAttributes(
		attribute.String("xray.user_id", userID),
		attribute.String("xray.patient_id", patientID),
		attribute.String("xray.top_prediction", prediction.TopLabel),
	)

	predictions, err := json.Marshal(predictionsColumn{
		Labels:   prediction.Labels,
		Scores:   prediction.Scores,
		TopLabel: prediction.TopLabel,
		TopScore: *prediction.TopScore,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: marshal predictions: %w", ErrPersistFailed, err)
	}

	id := uuid.New().String()
	query := `
		INSERT INTO diagnoses (
			id, user_id, patient_info_id, image_url, predictions,
			top_prediction, confidence_score, heatmap_base64, pdf_base64
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		userID,
		patientID,
		asset.PublicURL,
		predictions,
		prediction.TopLabel,
		*prediction.TopScore,
		nullString(prediction.HeatmapImage),
		nullString(prediction.ReportArtifact),
	).Scan(&createdAt); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	return &StoredDiagnosis{
		ID:              id,
		UserID:          userID,
		PatientID:       patientID,
		ImageURL:        asset.PublicURL,
		Labels:          prediction.Labels,
		Scores:          prediction.Scores,
		TopPrediction:   prediction.TopLabel,
		ConfidenceScore: *prediction.TopScore,
		HeatmapBase64:   prediction.HeatmapImage,
		PDFBase64:       prediction.ReportArtifact,
		CreatedAt:       createdAt,
	}, nil
}

const selectDiagnosisColumns = `
	SELECT id, user_id, patient_info_id, image_url, predictions,
	       top_prediction, confidence_score, heatmap_base64, pdf_base64, created_at
	FROM diagnoses
`

// GetByID fetches one stored diagnosis.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*StoredDiagnosis, error) {
	row := r.pool.QueryRow(ctx, selectDiagnosisColumns+` WHERE id = $1`, id)
	d, err := scanDiagnosis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("diagnosis: select failed: %w", err)
	}
	return d, nil
}

// ListByPatient returns the diagnoses userID created for a patient, newest first.
func (r *PostgresRepository) ListByPatient(ctx context.Context, userID, patientID string, limit int) ([]*StoredDiagnosis, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := selectDiagnosisColumns + ` WHERE patient_info_id = $1 AND user_id = $2 ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, patientID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("diagnosis: list failed: %w", err)
	}
	defer rows.Close()

	var out []*StoredDiagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("diagnosis: scan failed: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetPatient fetches the patient_info row used for export naming and facility lookup.
func (r *PostgresRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT id, user_id, full_name, COALESCE(location, '') FROM patient_info WHERE id = $1`
	var p Patient
	if err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.UserID, &p.FullName, &p.Location); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("diagnosis: select patient failed: %w", err)
	}
	return &p, nil
}

func scanDiagnosis(row pgx.Row) (*StoredDiagnosis, error) {
	var (
		d           StoredDiagnosis
		predictions []byte
		heatmap     *string
		pdf         *string
	)
	if err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.PatientID,
		&d.ImageURL,
		&predictions,
		&d.TopPrediction,
		&d.ConfidenceScore,
		&heatmap,
		&pdf,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(predictions) > 0 {
		var col predictionsColumn
		if err := json.Unmarshal(predictions, &col); err != nil {
			return nil, fmt.Errorf("decode predictions: %w", err)
		}
		d.Labels = col.Labels
		d.Scores = col.Scores
	}
	if heatmap != nil {
		d.HeatmapBase64 = *heatmap
	}
	if pdf != nil {
		d.PDFBase64 = *pdf
	}
	return &d, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
