// Package workflow sequences one diagnosis run: select, upload, analyze
// (inference then persistence) and classify.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/observability/metrics"
	"github.com/wolfman30/xray-diagnosis-platform/internal/risk"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

var workflowTracer = otel.Tracer("xray.internal.workflow")

// State is the run lifecycle position.
type State int

const (
	StateIdle State = iota
	StateSelected
	StateUploading
	StateAnalyzing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateUploading:
		return "uploading"
	case StateAnalyzing:
		return "analyzing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Uploader stores the selected image.
type Uploader interface {
	Upload(ctx context.Context, img *diagnosis.SelectedImage, ownerID string, progress upload.ProgressFunc) (*diagnosis.UploadedAsset, error)
}

// Inferrer runs the model on the selected image.
type Inferrer interface {
	Infer(ctx context.Context, img *diagnosis.SelectedImage) (*diagnosis.PredictionRecord, error)
}

// Persister writes the diagnosis row.
type Persister interface {
	Persist(ctx context.Context, asset diagnosis.UploadedAsset, prediction diagnosis.PredictionRecord, userID, patientID string) (*diagnosis.StoredDiagnosis, error)
}

// Snapshot is a copy of the machine's observable state.
type Snapshot struct {
	Run             uint64
	State           State
	Image           *diagnosis.SelectedImage
	Progress        int
	ProgressVisible bool
	Asset           *diagnosis.UploadedAsset
	Prediction      *diagnosis.PredictionRecord
	Diagnosis       *diagnosis.StoredDiagnosis
	Assessment      *risk.Assessment
	Failure         *StageError
}

// Machine is one user's workflow instance. Methods are safe for concurrent
// use; stages of a run execute strictly in sequence.
type Machine struct {
	uploader  Uploader
	inferrer  Inferrer
	persister Persister
	identity  Identity
	notifier  Notifier
	metrics   *metrics.PipelineMetrics
	observer  func(Snapshot)
	logger    *logging.Logger

	mu        sync.Mutex
	run       uint64
	state     State
	cancel    context.CancelFunc
	image     *diagnosis.SelectedImage
	progress  int
	showProg  bool
	asset     *diagnosis.UploadedAsset
	predicted *diagnosis.PredictionRecord
	stored    *diagnosis.StoredDiagnosis
	assessed  *risk.Assessment
	failure   *StageError
	userID    string
	patientID string
}

// NewMachine creates an idle workflow.
func NewMachine(uploader Uploader, inferrer Inferrer, persister Persister, identity Identity, logger *logging.Logger) *Machine {
	if uploader == nil {
		panic("workflow: uploader required")
	}
	if inferrer == nil {
		panic("workflow: inferrer required")
	}
	if persister == nil {
		panic("workflow: persister required")
	}
	if identity == nil {
		panic("workflow: identity required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		uploader:  uploader,
		inferrer:  inferrer,
		persister: persister,
		identity:  identity,
		notifier:  LogNotifier{Logger: logger},
		logger:    logger,
		run:       1,
	}
}

// WithNotifier replaces the default log notifier.
func (m *Machine) WithNotifier(n Notifier) *Machine {
	if n != nil {
		m.notifier = n
	}
	return m
}

// WithMetrics attaches pipeline metrics.
func (m *Machine) WithMetrics(pm *metrics.PipelineMetrics) *Machine {
	m.metrics = pm
	return m
}

// WithObserver registers a callback invoked after every state or progress change.
func (m *Machine) WithObserver(fn func(Snapshot)) *Machine {
	m.observer = fn
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Run:             m.run,
		State:           m.state,
		Image:           m.image,
		Progress:        m.progress,
		ProgressVisible: m.showProg,
		Asset:           m.asset,
		Prediction:      m.predicted,
		Diagnosis:       m.stored,
		Failure:         m.failure,
	}
	if m.assessed != nil {
		a := *m.assessed
		s.Assessment = &a
	}
	return s
}

func (m *Machine) publish(s Snapshot) {
	if m.observer != nil {
		m.observer(s)
	}
}

// SelectFile moves Idle or Selected to Selected. An invalid file leaves the
// state and any previously selected image untouched.
func (m *Machine) SelectFile(ctx context.Context, f upload.File) (*diagnosis.SelectedImage, error) {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateSelected {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: select file while %s", ErrInvalidTransition, state)
	}
	run := m.run
	img, err := upload.SelectFile(f)
	if err != nil {
		m.mu.Unlock()
		stageErr := &StageError{Stage: StageSelecting, Err: err}
		m.notify(ctx, run, stageErr)
		return nil, stageErr
	}
	m.image = img
	m.state = StateSelected
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("file selected", "run", run, "name", img.DisplayName, "mime", img.MimeType)
	m.publish(snap)
	return img, nil
}

// Start runs upload, inference and persistence for the selected image,
// blocking until the run completes, fails or is superseded by Reset.
func (m *Machine) Start(ctx context.Context, patientID string) (*diagnosis.StoredDiagnosis, error) {
	m.mu.Lock()
	if m.state != StateSelected || m.image == nil {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: start while %s", ErrInvalidTransition, state)
	}
	run := m.run
	img := m.image
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateUploading
	m.progress, m.showProg = 0, true
	m.patientID = patientID
	snap := m.snapshotLocked()
	m.mu.Unlock()
	defer cancel()
	m.publish(snap)

	runCtx, span := workflowTracer.Start(runCtx, "workflow.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("xray.run", int64(run)),
		attribute.String("xray.patient_id", patientID),
	)

	userID, ok := m.identity.CurrentUser(runCtx)
	if !ok || userID == "" {
		return nil, m.fail(runCtx, span, run, StageUploading, ErrUnauthenticated)
	}

	started := time.Now()
	asset, err := m.uploader.Upload(runCtx, img, userID, func(p int) { m.setProgress(run, p) })
	if err != nil {
		m.observeStage(StageUploading, "failed", started)
		return nil, m.fail(runCtx, span, run, StageUploading, err)
	}
	m.observeStage(StageUploading, "ok", started)

	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.asset = asset
	m.userID = userID
	m.state = StateAnalyzing
	snap = m.snapshotLocked()
	m.mu.Unlock()
	m.publish(snap)

	started = time.Now()
	prediction, err := m.inferrer.Infer(runCtx, img)
	if err != nil {
		m.observeStage("inference", "failed", started)
		return nil, m.fail(runCtx, span, run, StageAnalyzing, err)
	}
	m.observeStage("inference", "ok", started)

	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.predicted = prediction
	m.mu.Unlock()

	return m.persist(runCtx, span, run)
}

// RetryPersist re-runs persistence alone after a Failed(analyzing) caused by
// a persistence error, reusing the stored asset and prediction.
func (m *Machine) RetryPersist(ctx context.Context) (*diagnosis.StoredDiagnosis, error) {
	m.mu.Lock()
	if m.state != StateFailed || !m.failure.Retryable() || m.asset == nil || m.predicted == nil {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: retry persist while %s", ErrInvalidTransition, state)
	}
	run := m.run
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateAnalyzing
	m.failure = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()
	defer cancel()
	m.publish(snap)

	runCtx, span := workflowTracer.Start(runCtx, "workflow.retry_persist")
	defer span.End()
	span.SetAttributes(attribute.Int64("xray.run", int64(run)))

	return m.persist(runCtx, span, run)
}

func (m *Machine) persist(ctx context.Context, span trace.Span, run uint64) (*diagnosis.StoredDiagnosis, error) {
	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	asset, prediction := *m.asset, *m.predicted
	userID, patientID := m.userID, m.patientID
	m.mu.Unlock()

	started := time.Now()
	stored, err := m.persister.Persist(ctx, asset, prediction, userID, patientID)
	if err != nil {
		m.observeStage("persist", "failed", started)
		return nil, m.fail(ctx, span, run, StageAnalyzing, err)
	}
	m.observeStage("persist", "ok", started)

	assessment, err := risk.Classify(prediction.Score())
	if err != nil {
		return nil, m.fail(ctx, span, run, StageAnalyzing, err)
	}

	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.stored = stored
	m.assessed = &assessment
	m.state = StateComplete
	m.cancel = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.metrics.ObserveRisk(string(assessment.Tier))
	span.SetAttributes(
		attribute.String("xray.diagnosis_id", stored.ID),
		attribute.String("xray.risk_tier", string(assessment.Tier)),
	)
	m.logger.Info("diagnosis complete",
		"run", run,
		"diagnosis_id", stored.ID,
		"top_label", stored.TopPrediction,
		"tier", assessment.Tier,
	)
	m.publish(snap)
	return stored, nil
}

// Reset discards the current run, cancelling any pending call. A result that
// arrives later for the discarded run is dropped.
func (m *Machine) Reset() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.run++
	m.state = StateIdle
	m.cancel = nil
	m.image = nil
	m.progress, m.showProg = 0, false
	m.asset = nil
	m.predicted = nil
	m.stored = nil
	m.assessed = nil
	m.failure = nil
	m.userID, m.patientID = "", ""
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(snap)
}

func (m *Machine) setProgress(run uint64, p int) {
	m.mu.Lock()
	if m.run != run || m.state != StateUploading || p < m.progress {
		m.mu.Unlock()
		return
	}
	m.progress = p
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(snap)
}

func (m *Machine) fail(ctx context.Context, span trace.Span, run uint64, stage Stage, err error) error {
	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		m.logger.Debug("discarding failure of superseded run", "run", run, "stage", stage, "error", err)
		return ErrSuperseded
	}
	stageErr := &StageError{Stage: stage, Err: err}
	m.failure = stageErr
	m.state = StateFailed
	m.cancel = nil
	m.progress, m.showProg = 0, false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	span.RecordError(err)
	span.SetAttributes(attribute.String("xray.failed_stage", string(stage)))
	m.logger.Warn("diagnosis run failed", "run", run, "stage", stage, "error", err)
	m.notify(ctx, run, stageErr)
	m.publish(snap)
	return stageErr
}

func (m *Machine) notify(ctx context.Context, run uint64, stageErr *StageError) {
	m.notifier.Notify(context.WithoutCancel(ctx), Notice{
		Run:     run,
		Stage:   stageErr.Stage,
		Message: stageErr.Notice(),
		Err:     stageErr.Err,
	})
}

func (m *Machine) observeStage(stage Stage, status string, started time.Time) {
	m.metrics.ObserveStage(string(stage), status, time.Since(started).Seconds())
}
