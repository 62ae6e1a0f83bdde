// Package artifacts captures the browser state when a run fails.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

const textLines = 200

// S3API is the subset of the S3 client used by Collector.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Capture describes the files written for one failure.
type Capture struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	CapturedAt time.Time `json:"captured_at"`
	Files      []string  `json:"files"`
	S3Keys     []string  `json:"s3_keys,omitempty"`
}

// Collector writes failure artifacts to a local directory and, when a
// bucket is configured, mirrors them to S3.
type Collector struct {
	dir      string
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewCollector creates a Collector. An empty dir disables local files; an
// empty bucket disables uploads.
func NewCollector(dir string, s3Client S3API, bucket string, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{dir: dir, bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled reports whether anything would be written.
func (c *Collector) Enabled() bool {
	return c != nil && (c.dir != "" || c.uploads())
}

func (c *Collector) uploads() bool {
	return c != nil && c.bucket != "" && c.s3Client != nil
}

// Capture saves a screenshot, the document HTML and its visible text. Each
// piece is best-effort; the error reports only a failure to persist anything.
func (c *Collector) Capture(ctx context.Context, page browser.Page, runID, stage, kind string, cause error) (*Capture, error) {
	if !c.Enabled() || page == nil {
		return nil, nil
	}
	capture := &Capture{
		RunID:      runID,
		Stage:      stage,
		Kind:       kind,
		CapturedAt: c.now().UTC(),
	}
	if cause != nil {
		capture.Error = cause.Error()
	}

	files := map[string][]byte{}
	if png, err := page.Screenshot(ctx); err != nil {
		c.logger.Warn("screenshot failed", "error", err, "stage", stage)
	} else if len(png) > 0 {
		files[stage+".png"] = png
	}
	if doc, err := page.Content(ctx); err != nil {
		c.logger.Warn("page content unavailable", "error", err, "stage", stage)
	} else {
		files[stage+".html"] = []byte(doc)
		if lines, err := browser.VisibleText(doc, textLines); err != nil {
			c.logger.Warn("visible text extraction failed", "error", err)
		} else {
			files[stage+".txt"] = []byte(strings.Join(lines, "\n") + "\n")
		}
	}

	var errs []error
	for _, name := range sortedKeys(files) {
		capture.Files = append(capture.Files, name)
	}
	meta, err := json.MarshalIndent(capture, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifacts: marshal capture: %w", err)
	}
	files["capture.json"] = meta

	if c.dir != "" {
		if err := c.writeLocal(runID, files); err != nil {
			errs = append(errs, err)
		}
	}
	if c.uploads() {
		keys, err := c.upload(ctx, capture, files)
		capture.S3Keys = keys
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return capture, errors.Join(errs...)
	}

	c.logger.Info("failure artifacts captured", "run_id", runID, "stage", stage, "files", len(files), "s3_keys", len(capture.S3Keys))
	return capture, nil
}

func (c *Collector) writeLocal(runID string, files map[string][]byte) error {
	dir := filepath.Join(c.dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: create %s: %w", dir, err)
	}
	for name, data := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return fmt.Errorf("artifacts: write %s: %w", p, err)
		}
	}
	return nil
}

func (c *Collector) upload(ctx context.Context, capture *Capture, files map[string][]byte) ([]string, error) {
	at := capture.CapturedAt
	prefix := fmt.Sprintf("runs/v1/by-date/%d/%02d/%02d/%s", at.Year(), at.Month(), at.Day(), capture.RunID)
	var keys []string
	for _, name := range sortedKeys(files) {
		key := path.Join(prefix, name)
		_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(files[name]),
			ContentType: aws.String(contentType(name)),
		})
		if err != nil {
			return keys, fmt.Errorf("artifacts: s3 put %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	entry := ManifestEntry{
		RunID:      capture.RunID,
		Stage:      capture.Stage,
		Kind:       capture.Kind,
		Prefix:     prefix,
		CapturedAt: at.Format(time.RFC3339),
	}
	if err := c.AppendManifest(ctx, entry); err != nil {
		// the artifacts themselves are uploaded
		c.logger.Warn("failed to append manifest", "error", err, "run_id", capture.RunID)
	}
	return keys, nil
}

// ManifestEntry is one line of the monthly failure manifest.
type ManifestEntry struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Prefix     string `json:"prefix"`
	CapturedAt string `json:"captured_at"`
}

// AppendManifest appends a JSONL line to the monthly manifest. S3 has no
// append, so the object is read, extended and rewritten.
func (c *Collector) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !c.uploads() {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("artifacts: marshal manifest entry: %w", err)
	}
	now := c.now().UTC()
	key := fmt.Sprintf("runs/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	resp, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("artifacts: read manifest: %w", err)
		}
	case isNotFound(err):
		c.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("artifacts: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("artifacts: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
