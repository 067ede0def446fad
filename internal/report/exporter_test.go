package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

type recordedEvent struct {
	event diagnosis.ExportEvent
	data  ReportData
}

type fakeEventStore struct {
	events []recordedEvent
	err    error
}

func (f *fakeEventStore) AppendExport(_ context.Context, event diagnosis.ExportEvent, data ReportData) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{event: event, data: data})
	return nil
}

type staticIdentity struct {
	userID string
}

func (s staticIdentity) CurrentUser(context.Context) (string, bool) {
	return s.userID, s.userID != ""
}

type memoryDelivery struct {
	name string
	data []byte
	err  error
}

func (m *memoryDelivery) Deliver(_ context.Context, name string, data []byte) (*LocalFileHandle, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.name, m.data = name, data
	return &LocalFileHandle{Name: name, Size: len(data)}, nil
}

var fixedNow = time.UnixMilli(1760000000000)

func newTestExporter(events EventStore, identity Identity) *Exporter {
	return NewExporter(events, identity, logging.NewWithWriter("error", nil)).
		WithClock(func() time.Time { return fixedNow })
}

func storedWithReport() *diagnosis.StoredDiagnosis {
	return &diagnosis.StoredDiagnosis{
		ID:              "diag-1",
		UserID:          "user-1",
		PatientID:       "patient-1",
		TopPrediction:   "Pneumonia",
		ConfidenceScore: 0.73,
		PDFBase64:       "255044462d312e34", // "%PDF-1.4"
	}
}

func TestExport_DeliversAndRecordsEvent(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{userID: "user-9"})
	delivery := &memoryDelivery{}

	handle, err := exp.Export(context.Background(), storedWithReport(), diagnosis.Patient{ID: "patient-1", FullName: "Jane Roe"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, "diagnosis_Jane Roe_1760000000000.pdf", handle.Name)
	assert.Equal(t, []byte("%PDF-1.4"), delivery.data)

	require.Len(t, events.events, 1)
	ev := events.events[0].event
	assert.Equal(t, "user-9", ev.UserID)
	assert.Equal(t, "diag-1", ev.DiagnosisID)
	assert.Equal(t, "patient-1", ev.PatientID)
	assert.Equal(t, handle.Name, ev.FileName)
	assert.Equal(t, "Jane Roe", events.events[0].data.Patient.FullName)
}

func TestExport_NoArtifact(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{userID: "user-1"})
	delivery := &memoryDelivery{}

	record := storedWithReport()
	record.PDFBase64 = ""
	handle, err := exp.Export(context.Background(), record, diagnosis.Patient{FullName: "Jane Roe"}, delivery)
	assert.Nil(t, handle)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.Empty(t, events.events)
	assert.Empty(t, delivery.name)
}

func TestExport_WithoutIdentityStillDelivers(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{})

	handle, err := exp.Export(context.Background(), storedWithReport(), diagnosis.Patient{FullName: "Jane Roe"}, &memoryDelivery{})
	require.NoError(t, err)
	assert.NotNil(t, handle)
	assert.Empty(t, events.events)
}

func TestExport_EventStoreFailureIsBestEffort(t *testing.T) {
	events := &fakeEventStore{err: errors.New("db down")}
	exp := newTestExporter(events, staticIdentity{userID: "user-1"})

	handle, err := exp.Export(context.Background(), storedWithReport(), diagnosis.Patient{FullName: "Jane Roe"}, &memoryDelivery{})
	require.NoError(t, err)
	assert.NotNil(t, handle)
}

func TestExport_DecodeFailure(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{userID: "user-1"})
	record := storedWithReport()
	record.PDFBase64 = "%%%not-encoded%%%"

	_, err := exp.Export(context.Background(), record, diagnosis.Patient{FullName: "Jane Roe"}, &memoryDelivery{})
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.Empty(t, events.events)
}

func TestExport_DeliveryFailure(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{userID: "user-1"})
	record := storedWithReport()

	_, err := exp.Export(context.Background(), record, diagnosis.Patient{FullName: "Jane Roe"}, &memoryDelivery{err: errors.New("disk full")})
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, events.events)
	assert.Equal(t, "255044462d312e34", record.PDFBase64, "stored record untouched")
}

func TestFileName(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	assert.Equal(t, "diagnosis_Jane Roe_1700000000000.pdf", FileName("Jane Roe", at))
	assert.Equal(t, "diagnosis_a_b_1700000000000.pdf", FileName("a/b", at))
	assert.Equal(t, "diagnosis_patient_1700000000000.pdf", FileName("  ", at))
	assert.NotEqual(t, FileName("Jane Roe", at), FileName("Jane Roe", at.Add(time.Millisecond)))
}

func TestDecodeArtifact(t *testing.T) {
	data, err := DecodeArtifact("255044462d")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-"), data)

	data, err = DecodeArtifact("JVBERi0xLjQ=")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	_, err = DecodeArtifact("")
	assert.Error(t, err)
	_, err = DecodeArtifact("not base64!")
	assert.Error(t, err)
}

func TestDirectoryDelivery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	d := DirectoryDelivery{Dir: dir}

	handle, err := d.Deliver(context.Background(), "diagnosis_Jane_1.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "diagnosis_Jane_1.pdf"), handle.Path)
	got, err := os.ReadFile(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), got)

	second, err := d.Deliver(context.Background(), "diagnosis_Jane_1.pdf", []byte("other"))
	require.NoError(t, err)
	assert.Equal(t, "diagnosis_Jane_1_1.pdf", second.Name)
	assert.Equal(t, filepath.Join(dir, "diagnosis_Jane_1_1.pdf"), second.Path)

	got, err = os.ReadFile(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), got, "existing exports are never overwritten")
}

func TestExport_SameMillisecondExportsDoNotCollide(t *testing.T) {
	events := &fakeEventStore{}
	exp := newTestExporter(events, staticIdentity{userID: "user-1"})
	dir := t.TempDir()
	patient := diagnosis.Patient{ID: "patient-1", FullName: "Jane Roe"}

	first, err := exp.Export(context.Background(), storedWithReport(), patient, DirectoryDelivery{Dir: dir})
	require.NoError(t, err)
	second, err := exp.Export(context.Background(), storedWithReport(), patient, DirectoryDelivery{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, "diagnosis_Jane Roe_1760000000000.pdf", first.Name)
	assert.Equal(t, "diagnosis_Jane Roe_1760000000000_1.pdf", second.Name)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.Len(t, events.events, 2)
	assert.Equal(t, second.Name, events.events[1].event.FileName)
	assert.Equal(t, second.Name, events.events[1].data.FileName)
}
