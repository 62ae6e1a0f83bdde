// Package automation runs the full e-SUS PEC workflow: login, book and remove
// an appointment, queue and attend the patient, record the SOAP note and
// announce completion.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/esus-pec-automation/internal/agenda"
	"github.com/wolfman30/esus-pec-automation/internal/artifacts"
	"github.com/wolfman30/esus-pec-automation/internal/attendance"
	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/internal/notify"
	"github.com/wolfman30/esus-pec-automation/internal/observability/metrics"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

var runTracer = otel.Tracer("esus.internal.automation")

// Stage names, in execution order.
const (
	StageLogin    = "login"
	StageSchedule = "schedule"
	StageQueue    = "queue"
	StageAttend   = "attend"
	StageSOAP     = "soap"
	StageNotify   = "notify"
)

// Notifier announces a finished run.
type Notifier interface {
	NotifyCompletion(ctx context.Context, c notify.Completion) error
}

// ArtifactCollector saves the browser state of a failed stage.
type ArtifactCollector interface {
	Capture(ctx context.Context, page browser.Page, runID, stage, kind string, cause error) (*artifacts.Capture, error)
}

// Settings are the run inputs taken from configuration.
type Settings struct {
	Credentials portal.Credentials
	Clinician   string
	Patient     string
	FinalSettle time.Duration
}

// SettingsFromConfig maps validated configuration onto run settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Credentials: portal.Credentials{
			URL:      cfg.WebsiteURL,
			Username: cfg.Username,
			Password: cfg.Password,
			Unit:     cfg.Unit,
		},
		Clinician:   cfg.Clinician,
		Patient:     cfg.Patient,
		FinalSettle: cfg.FinalSettle,
	}
}

// StageResult records how one stage went.
type StageResult struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

// Report summarizes a run. It is logged, not persisted.
type Report struct {
	RunID       string                 `json:"run_id"`
	Unit        string                 `json:"unit"`
	URL         string                 `json:"url"`
	Booking     *agenda.Booking        `json:"booking,omitempty"`
	Note        *attendance.NoteResult `json:"note,omitempty"`
	Notified    bool                   `json:"notified"`
	NotifyError string                 `json:"notify_error,omitempty"`
	Stages      []StageResult          `json:"stages"`
	Artifacts   *artifacts.Capture     `json:"artifacts,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// StageError is the failure of a run stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("automation: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Runner executes the stages strictly in sequence on one page.
type Runner struct {
	page       browser.Page
	settings   Settings
	portalOpts []portal.Option
	notifier   Notifier
	artifacts  ArtifactCollector
	metrics    *metrics.AutomationMetrics
	intervener portal.Intervener
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string
}

// Option customizes a Runner.
type Option func(*Runner)

func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeouts overrides the portal wait budgets.
func WithTimeouts(t portal.Timeouts) Option {
	return func(r *Runner) {
		r.portalOpts = append(r.portalOpts, portal.WithTimeouts(t))
	}
}

func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithArtifacts(c ArtifactCollector) Option {
	return func(r *Runner) { r.artifacts = c }
}

func WithMetrics(m *metrics.AutomationMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithIntervener sets who finishes form steps the run could not complete.
func WithIntervener(iv portal.Intervener) Option {
	return func(r *Runner) { r.intervener = iv }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.newID = func() string { return id }
		}
	}
}

// NewRunner creates a Runner. The caller owns page and closes it.
func NewRunner(page browser.Page, settings Settings, opts ...Option) *Runner {
	r := &Runner{
		page:     page,
		settings: settings,
		logger:   logging.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every stage once. The first failing stage ends the run; a
// failed notification does not.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{
		RunID:     r.newID(),
		Unit:      r.settings.Credentials.Unit,
		URL:       r.settings.Credentials.URL,
		StartedAt: r.now(),
	}
	logger := r.logger.Component("automation").With("run_id", report.RunID)

	ctx, span := runTracer.Start(ctx, "automation.run")
	span.SetAttributes(
		attribute.String("automation.run_id", report.RunID),
		attribute.String("automation.unit", report.Unit),
	)
	defer func() {
		report.FinishedAt = r.now()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p := portal.New(r.page, append([]portal.Option{portal.WithLogger(logger)}, r.portalOpts...)...)
	scheduler := agenda.New(p, r.settings.Clinician, r.settings.Patient)
	workflow := attendance.New(p, r.settings.Clinician, r.settings.Patient, r.intervener)

	logger.Info("starting automation", "unit", report.Unit, "clinician", r.settings.Clinician, "patient", r.settings.Patient)

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{StageLogin, func(ctx context.Context) error {
			return p.Login(ctx, r.settings.Credentials)
		}},
		{StageSchedule, func(ctx context.Context) error {
			booking, err := scheduler.Schedule(ctx)
			report.Booking = booking
			return err
		}},
		{StageQueue, workflow.QueuePatient},
		{StageAttend, workflow.Attend},
		{StageSOAP, func(ctx context.Context) error {
			note, err := workflow.FillStandardNote(ctx)
			report.Note = note
			if note != nil {
				for _, pending := range note.Pending {
					r.metrics.ObserveIntervention(pending.Step)
				}
			}
			return err
		}},
	}
	for _, s := range stages {
		if err := r.stage(ctx, logger, report, s.name, s.run); err != nil {
			return report, r.fail(ctx, logger, report, s.name, err)
		}
	}

	r.notify(ctx, logger, report)

	logger.Info("automation completed", "unit", report.Unit, "url", report.URL)
	r.metrics.ObserveRun("", r.now())
	if r.settings.FinalSettle > 0 {
		if err := r.page.Settle(ctx, r.settings.FinalSettle); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Runner) stage(ctx context.Context, logger *logging.Logger, report *Report, name string, fn func(context.Context) error) error {
	ctx, span := runTracer.Start(ctx, "automation."+name)
	defer span.End()

	logger.Info("stage started", "stage", name)
	start := r.now()
	err := fn(ctx)
	elapsed := r.now().Sub(start)
	r.metrics.ObserveStage(name, err, elapsed)

	result := StageResult{Stage: name, Duration: elapsed}
	if err != nil {
		result.Error = err.Error()
		result.Kind = portal.Kind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		logger.Info("stage finished", "stage", name, "duration", elapsed)
	}
	report.Stages = append(report.Stages, result)
	return err
}

func (r *Runner) fail(ctx context.Context, logger *logging.Logger, report *Report, stage string, err error) error {
	kind := portal.Kind(err)
	switch {
	case kind == portal.KindTimeout:
		logger.Error("operation timed out, check selectors or connectivity", "stage", stage, "error", err)
	default:
		logger.Error("automation failed", "stage", stage, "kind", kind, "error", err)
	}
	for _, c := range portal.Candidates(err) {
		logger.Info("candidate", "stage", stage, "index", c.Index, "text", c.Text, "tag", c.Tag)
	}
	r.metrics.ObserveRun(kind, r.now())

	if r.artifacts != nil && !errors.Is(err, context.Canceled) {
		captureCtx := context.WithoutCancel(ctx)
		capture, cerr := r.artifacts.Capture(captureCtx, r.page, report.RunID, stage, kind, err)
		report.Artifacts = capture
		if cerr != nil {
			logger.Warn("failed to capture artifacts", "stage", stage, "error", cerr)
		}
	}
	return &StageError{Stage: stage, Err: err}
}

func (r *Runner) notify(ctx context.Context, logger *logging.Logger, report *Report) {
	if r.notifier == nil {
		logger.Warn("no notifier configured, skipping completion notice")
		return
	}
	err := r.stage(ctx, logger, report, StageNotify, func(ctx context.Context) error {
		return r.notifier.NotifyCompletion(ctx, notify.Completion{
			Unit: report.Unit,
			URL:  report.URL,
			At:   r.now(),
		})
	})
	r.metrics.ObserveNotification(err)
	if err != nil {
		report.NotifyError = err.Error()
		logger.Error("completion notice failed, run outcome unchanged", "error", err)
		return
	}
	report.Notified = true
}
