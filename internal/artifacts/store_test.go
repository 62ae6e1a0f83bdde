package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bt "github.com/wolfman30/esus-pec-automation/internal/browser/browsertest"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

type mockS3Client struct {
	putKeys []string
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(input.Body)
	m.putKeys = append(m.putKeys, *input.Key)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

var captureTime = time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)

func failedPage() *bt.Page {
	page := bt.NewPage(bt.H3("Centro X"), bt.Span("Enfermeiro"), bt.Div("").Hide())
	page.ScreenshotPNG = []byte("\x89PNG")
	return page
}

func newTestCollector(dir string, s3Client S3API, bucket string) *Collector {
	c := NewCollector(dir, s3Client, bucket, logging.New("error"))
	c.now = func() time.Time { return captureTime }
	return c
}

func TestCollector_CaptureLocal(t *testing.T) {
	dir := t.TempDir()
	c := newTestCollector(dir, nil, "")

	capture, err := c.Capture(context.Background(), failedPage(), "run-1", "login", "unit_not_found", errors.New("unit missing"))
	require.NoError(t, err)
	require.NotNil(t, capture)
	assert.Equal(t, []string{"login.html", "login.png", "login.txt"}, capture.Files)
	assert.Empty(t, capture.S3Keys)

	png, err := os.ReadFile(filepath.Join(dir, "run-1", "login.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png)

	text, err := os.ReadFile(filepath.Join(dir, "run-1", "login.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Centro X\nEnfermeiro\n", string(text))

	meta, err := os.ReadFile(filepath.Join(dir, "run-1", "capture.json"))
	require.NoError(t, err)
	var decoded Capture
	require.NoError(t, json.Unmarshal(meta, &decoded))
	assert.Equal(t, "unit missing", decoded.Error)
	assert.Equal(t, "unit_not_found", decoded.Kind)
}

func TestCollector_CaptureUploadsAndAppendsManifest(t *testing.T) {
	mock := newMockS3()
	c := newTestCollector("", mock, "artifacts-bucket")

	_, err := c.Capture(context.Background(), failedPage(), "run-1", "schedule", "timeout", errors.New("t"))
	require.NoError(t, err)
	_, err = c.Capture(context.Background(), failedPage(), "run-2", "attend", "patient_not_found", errors.New("p"))
	require.NoError(t, err)

	assert.Contains(t, mock.putKeys, "runs/v1/by-date/2026/10/17/run-1/schedule.png")
	assert.Contains(t, mock.putKeys, "runs/v1/by-date/2026/10/17/run-2/capture.json")

	manifest := string(mock.objects["runs/v1/manifests/2026-10.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "run-2", entry.RunID)
	assert.Equal(t, "runs/v1/by-date/2026/10/17/run-2", entry.Prefix)
}

func TestCollector_ContentFailureStillSavesScreenshot(t *testing.T) {
	dir := t.TempDir()
	page := failedPage()
	page.ContentErr = errors.New("target closed")

	capture, err := newTestCollector(dir, nil, "").Capture(context.Background(), page, "run-3", "soap", "unknown", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"soap.png"}, capture.Files)
	assert.Empty(t, capture.Error)
}

func TestCollector_UploadFailureIsReported(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	dir := t.TempDir()

	capture, err := newTestCollector(dir, mock, "bucket").Capture(context.Background(), failedPage(), "run-4", "queue", "timeout", nil)
	require.Error(t, err)
	require.NotNil(t, capture)
	_, statErr := os.Stat(filepath.Join(dir, "run-4", "queue.html"))
	assert.NoError(t, statErr, "local copy is kept when the upload fails")
}

func TestCollector_ManifestReadErrorIsNotFatal(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("throttled")
	c := newTestCollector("", mock, "bucket")

	capture, err := c.Capture(context.Background(), failedPage(), "run-5", "login", "timeout", nil)
	require.NoError(t, err)
	assert.Len(t, capture.S3Keys, 4)
	_, ok := mock.objects["runs/v1/manifests/2026-10.jsonl"]
	assert.False(t, ok)
}

func TestCollector_Disabled(t *testing.T) {
	var nilCollector *Collector
	assert.False(t, nilCollector.Enabled())
	capture, err := nilCollector.Capture(context.Background(), failedPage(), "r", "s", "k", nil)
	assert.NoError(t, err)
	assert.Nil(t, capture)

	c := NewCollector("", newMockS3(), "", nil)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.AppendManifest(context.Background(), ManifestEntry{}))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&s3types.NoSuchKey{}))
	assert.True(t, isNotFound(errors.New("operation error S3: GetObject, https response error StatusCode: 404")))
	assert.False(t, isNotFound(errors.New("throttled")))
}
