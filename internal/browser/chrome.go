package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

//go:embed dom.js
var domScript string

// ChromeOptions configures the Chrome tab driven by chromedp.
type ChromeOptions struct {
	Headless     bool
	ExecPath     string
	RemoteURL    string // attach to a running browser instead of launching one
	WindowWidth  int
	WindowHeight int
	Logger       *logging.Logger
}

// ChromePage drives one Chrome tab through the DevTools protocol.
type ChromePage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *logging.Logger
	closeOnce   sync.Once
	closeErr    error
}

var _ Page = (*ChromePage)(nil)

// Launch starts (or attaches to) a browser and opens a fresh tab.
func Launch(ctx context.Context, opts ChromeOptions) (*ChromePage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(width, height),
		)
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	// Starts the browser; the first Run allocates the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start chrome: %w", err)
	}

	logger.Info("browser started", "headless", opts.Headless, "remote", opts.RemoteURL != "")
	return &ChromePage{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// run executes actions on the tab, bounded by the caller's context.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *ChromePage) eval(ctx context.Context, op string, args map[string]interface{}, out interface{}) error {
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("browser: marshal op: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("browser: marshal args: %w", err)
	}
	expr := fmt.Sprintf("(%s)(%s, %s)", domScript, opJSON, argsJSON)
	if err := p.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		if strings.Contains(err.Error(), "detached:") {
			return ErrDetached
		}
		return fmt.Errorf("browser: %s: %w", op, err)
	}
	return nil
}

func (p *ChromePage) find(ctx context.Context, frame int, scope string, q Query) ([]Element, error) {
	var refs []string
	args := map[string]interface{}{"frame": frame, "scope": scope, "query": q}
	if err := p.eval(ctx, "find", args, &refs); err != nil {
		return nil, err
	}
	els := make([]Element, 0, len(refs))
	for _, ref := range refs {
		els = append(els, &chromeElement{page: p, frame: frame, ref: ref})
	}
	return els, nil
}

// Find searches the top-level document.
func (p *ChromePage) Find(ctx context.Context, q Query) ([]Element, error) {
	return p.find(ctx, -1, "", q)
}

// Navigate loads url and waits for the body to be ready.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

// Frames lists the page's iframes in document order.
func (p *ChromePage) Frames(ctx context.Context) ([]Frame, error) {
	var srcs []string
	if err := p.eval(ctx, "frames", nil, &srcs); err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(srcs))
	for i, src := range srcs {
		frames = append(frames, &chromeFrame{page: p, index: i, src: src})
	}
	return frames, nil
}

// Settle sleeps for d unless ctx ends first.
func (p *ChromePage) Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MouseMove moves the pointer to viewport coordinates.
func (p *ChromePage) MouseMove(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// Content returns the serialized document.
func (p *ChromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("browser: outer html: %w", err)
	}
	return html, nil
}

// Screenshot captures the viewport as PNG.
func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the tab and the browser it started. Safe to call more than once.
func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = fmt.Errorf("browser: close: %w", err)
		}
		p.cancel()
		p.allocCancel()
		p.logger.Info("browser closed")
	})
	return p.closeErr
}

type chromeFrame struct {
	page  *ChromePage
	index int
	src   string
}

func (f *chromeFrame) Find(ctx context.Context, q Query) ([]Element, error) {
	return f.page.find(ctx, f.index, "", q)
}

func (f *chromeFrame) Index() int  { return f.index }
func (f *chromeFrame) Src() string { return f.src }

type chromeElement struct {
	page  *ChromePage
	frame int
	ref   string
}

func (e *chromeElement) args() map[string]interface{} {
	return map[string]interface{}{"frame": e.frame, "ref": e.ref}
}

func (e *chromeElement) String() string {
	return fmt.Sprintf("[data-pec-ref=%q]", e.ref)
}

func (e *chromeElement) Find(ctx context.Context, q Query) ([]Element, error) {
	return e.page.find(ctx, e.frame, e.ref, q)
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.page.eval(ctx, "text", e.args(), &text)
	return text, err
}

func (e *chromeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	args := e.args()
	args["name"] = name
	if err := e.page.eval(ctx, "attr", args, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.page.eval(ctx, "visible", e.args(), &ok)
	return ok, err
}

type box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (e *chromeElement) center(ctx context.Context) (box, error) {
	var b box
	if err := e.page.eval(ctx, "box", e.args(), &b); err != nil {
		return b, err
	}
	if b.W <= 0 || b.H <= 0 {
		return b, fmt.Errorf("browser: element %s has no box", e)
	}
	return b, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	b, err := e.center(ctx)
	if err != nil {
		return err
	}
	return e.page.run(ctx, chromedp.MouseClickXY(b.X, b.Y))
}

func (e *chromeElement) Hover(ctx context.Context) error {
	b, err := e.center(ctx)
	if err != nil {
		return err
	}
	return e.page.run(ctx, chromedp.MouseEvent(input.MouseMoved, b.X, b.Y))
}

func (e *chromeElement) Fill(ctx context.Context, value string) error {
	var ok bool
	if err := e.page.eval(ctx, "focus", e.args(), &ok); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return e.page.run(ctx, input.InsertText(value))
}

func (e *chromeElement) Press(ctx context.Context, key string) error {
	var ok bool
	if err := e.page.eval(ctx, "press", e.args(), &ok); err != nil {
		return err
	}
	return e.page.run(ctx, chromedp.KeyEvent(keyCode(key)))
}

func (e *chromeElement) ScrollIntoView(ctx context.Context) error {
	var ok bool
	return e.page.eval(ctx, "scroll", e.args(), &ok)
}

func (e *chromeElement) relative(ctx context.Context, op string) (Element, error) {
	var ref string
	if err := e.page.eval(ctx, op, e.args(), &ref); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, nil
	}
	return &chromeElement{page: e.page, frame: e.frame, ref: ref}, nil
}

func (e *chromeElement) Parent(ctx context.Context) (Element, error) {
	return e.relative(ctx, "parent")
}

func (e *chromeElement) NextSibling(ctx context.Context) (Element, error) {
	return e.relative(ctx, "sibling")
}

func keyCode(key string) string {
	switch key {
	case KeyArrowDown:
		return kb.ArrowDown
	case KeyEnter:
		return kb.Enter
	case KeyEscape:
		return kb.Escape
	default:
		return key
	}
}
