// Package portal drives the parts of the e-SUS PEC web application shared by
// every workflow: login, unit selection, navigation and element resolution.
package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// Timeouts bounds every wait the workflows perform. Settle values are minimum
// pauses the portal needs to finish rendering and must not be dropped.
type Timeouts struct {
	Cookie time.Duration
	Login  time.Duration
	Dialog time.Duration
	Field  time.Duration
	Short  time.Duration
	Action time.Duration

	Settle     time.Duration
	FormSettle time.Duration
	Hover      time.Duration
}

// DefaultTimeouts returns the budgets tuned against the live portal.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Cookie:     5 * time.Second,
		Login:      10 * time.Second,
		Dialog:     3 * time.Second,
		Field:      15 * time.Second,
		Short:      5 * time.Second,
		Action:     15 * time.Second,
		Settle:     2 * time.Second,
		FormSettle: time.Second,
		Hover:      500 * time.Millisecond,
	}
}

var mainNav = browser.Query{Role: "navigation", Text: browser.Contains("Acompanhamentos")}

// Portal wraps the live page with the portal's navigation vocabulary.
type Portal struct {
	page     browser.Page
	logger   *logging.Logger
	timeouts Timeouts
}

// Option customises a Portal.
type Option func(*Portal)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Portal) {
		p.logger = logger
	}
}

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(p *Portal) {
		p.timeouts = t
	}
}

// New wraps page.
func New(page browser.Page, opts ...Option) *Portal {
	p := &Portal{
		page:     page,
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	return p
}

// Page returns the underlying page.
func (p *Portal) Page() browser.Page { return p.page }

// Logger returns the portal logger.
func (p *Portal) Logger() *logging.Logger { return p.logger }

// Timeouts returns the active budgets.
func (p *Portal) Timeouts() Timeouts { return p.timeouts }

// Settle pauses for d.
func (p *Portal) Settle(ctx context.Context, d time.Duration) error {
	return p.page.Settle(ctx, d)
}

// Find waits up to timeout for the first visible match of q on the page.
func (p *Portal) Find(ctx context.Context, q browser.Query, timeout time.Duration) (browser.Element, error) {
	return browser.Wait(ctx, p.page, q, timeout)
}

// Click waits for q and clicks it.
func (p *Portal) Click(ctx context.Context, q browser.Query) error {
	el, err := p.Find(ctx, q, p.timeouts.Action)
	if err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("portal: click %s: %w", q, err)
	}
	return nil
}

// Fill waits up to timeout for q and types value into it.
func (p *Portal) Fill(ctx context.Context, q browser.Query, value string, timeout time.Duration) (browser.Element, error) {
	el, err := p.Find(ctx, q, timeout)
	if err != nil {
		return nil, err
	}
	if err := el.Fill(ctx, value); err != nil {
		return nil, fmt.Errorf("portal: fill %s: %w", q, err)
	}
	return el, nil
}

// OpenModule opens a section of the main navigation by link name.
func (p *Portal) OpenModule(ctx context.Context, link string) error {
	p.logger.Info("opening module", "link", link)
	if err := p.Click(ctx, mainNav); err != nil {
		return err
	}
	return p.Click(ctx, browser.ByRole("link", link))
}

// ToggleLabel clicks the first span of the label containing text, which is
// how the portal's checkboxes and radios receive clicks.
func (p *Portal) ToggleLabel(ctx context.Context, text string) error {
	return p.ClickLabel(ctx, text, p.timeouts.Action)
}

// ClickLabel is ToggleLabel with an explicit visibility budget.
func (p *Portal) ClickLabel(ctx context.Context, text string, timeout time.Duration) error {
	label, err := p.Find(ctx, browser.Query{Tag: "label", Text: browser.Contains(text)}, timeout)
	if err != nil {
		return err
	}
	span, err := browser.First(ctx, label, browser.Query{Tag: "span"})
	if err != nil {
		return err
	}
	if span == nil {
		return fmt.Errorf("portal: label %q has no span", text)
	}
	if err := browser.WaitElement(ctx, span, timeout); err != nil {
		return err
	}
	if err := span.Click(ctx); err != nil {
		return fmt.Errorf("portal: click label %q: %w", text, err)
	}
	return nil
}
