package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	hold    chan struct{}
	err     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	f.types[key] = contentType
	return nil
}

func (f *fakeStorage) PublicURL(key string) string {
	return "https://storage.example/xray-images/" + key
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func testImage() *diagnosis.SelectedImage {
	return &diagnosis.SelectedImage{Bytes: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png", DisplayName: "chest.png"}
}

func TestSelectFile(t *testing.T) {
	img, err := SelectFile(File{Name: "scans/chest.png", ContentType: "image/png", Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "chest.png", img.DisplayName)
	assert.Equal(t, "image/png", img.MimeType)

	_, err = SelectFile(File{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")})
	assert.ErrorIs(t, err, ErrInvalidFileType)

	_, err = SelectFile(File{Name: "blank.png", ContentType: "", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrInvalidFileType)

	_, err = SelectFile(File{Name: "empty.jpg", ContentType: "image/jpeg"})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestStorageKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "user-1/1700000000123_chest.png", StorageKey("user-1", at, "chest.png"))
	assert.Equal(t, "user-1/1700000000123_chest.png", StorageKey("user-1", at, `C:\scans\chest.png`))
	assert.NotEqual(t, StorageKey("user-1", at, "chest.png"), StorageKey("user-2", at, "chest.png"))
	assert.NotEqual(t, StorageKey("user-1", at, "chest.png"), StorageKey("user-1", at.Add(time.Millisecond), "chest.png"))
}

func TestUpload_ProgressReaches100OnlyAfterConfirmedWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	storage := newFakeStorage()
	storage.hold = make(chan struct{})
	clock := func() time.Time { return time.UnixMilli(1700000000000) }
	orch := NewOrchestrator(storage, logging.NewWithWriter("error", nil)).
		WithProgressInterval(time.Millisecond).
		WithClock(clock)

	var progress progressLog
	pendingMax := make(chan int, 1)
	go func() {
		// Let several ticks happen while the write is pending.
		deadline := time.Now().Add(time.Second)
		for len(progress.snapshot()) < 5 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		highest := 0
		for _, v := range progress.snapshot() {
			highest = max(highest, v)
		}
		pendingMax <- highest
		close(storage.hold)
	}()

	asset, err := orch.Upload(context.Background(), testImage(), "user-1", progress.record)
	require.NoError(t, err)
	assert.Less(t, <-pendingMax, 100, "100 reported before the write settled")
	assert.Equal(t, "user-1/1700000000000_chest.png", asset.StorageKey)
	assert.Equal(t, "https://storage.example/xray-images/user-1/1700000000000_chest.png", asset.PublicURL)
	assert.Equal(t, "image/png", storage.types[asset.StorageKey])

	values := progress.snapshot()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress regressed: %v", values)
	}
	assert.Equal(t, 100, values[len(values)-1])
	hundreds := 0
	for _, v := range values {
		if v == 100 {
			hundreds++
		}
	}
	assert.Equal(t, 1, hundreds)
}

func TestUpload_FailureNeverReports100(t *testing.T) {
	defer goleak.VerifyNone(t)

	storage := newFakeStorage()
	storage.err = errors.New("bucket unavailable")
	orch := NewOrchestrator(storage, logging.NewWithWriter("error", nil)).WithProgressInterval(time.Millisecond)

	var progress progressLog
	asset, err := orch.Upload(context.Background(), testImage(), "user-1", progress.record)
	assert.Nil(t, asset)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.NotContains(t, progress.snapshot(), 100)
	assert.Empty(t, storage.objects)
}

func TestUpload_CancelStopsEmitter(t *testing.T) {
	defer goleak.VerifyNone(t)

	storage := newFakeStorage()
	storage.hold = make(chan struct{})
	orch := NewOrchestrator(storage, logging.NewWithWriter("error", nil)).WithProgressInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	var progress progressLog
	_, err := orch.Upload(ctx, testImage(), "user-1", progress.record)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, context.Canceled)

	settled := len(progress.snapshot())
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, progress.snapshot(), settled, "emitter kept ticking after the upload settled")
}

func TestUpload_RequiresOwner(t *testing.T) {
	orch := NewOrchestrator(newFakeStorage(), logging.NewWithWriter("error", nil))
	_, err := orch.Upload(context.Background(), testImage(), " ", nil)
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestProgressEmitterCapsAtCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	var progress progressLog
	p := startProgress(time.Millisecond, 40, 90, progress.record)
	require.Eventually(t, func() bool {
		v := progress.snapshot()
		return len(v) > 0 && v[len(v)-1] == 90
	}, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
	assert.Equal(t, []int{0, 40, 80, 90}, progress.snapshot())
}
