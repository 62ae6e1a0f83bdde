// Package browsertest provides an in-memory DOM implementing the browser
// interfaces, so portal workflows can be exercised without Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
)

// Node is one element of the fake document.
type Node struct {
	Tag    string
	Role   string
	Name   string // accessible name; falls back to the text content
	Text   string // own text
	TestID string
	Title  string

	Classes   []string
	Attrs     map[string]string
	Selectors []string // CSS selectors this node answers to
	Hidden    bool

	// Reveal lists nodes made visible when this node is hovered.
	Reveal []*Node
	// OnHover runs after the node is hovered.
	OnHover func(p *Page)
	// OnClick runs after a successful click.
	OnClick func(p *Page)
	// OnFill runs after a fill with the typed value.
	OnFill func(p *Page, value string)
	// ClickErr makes every click on this node fail.
	ClickErr error

	Value    string
	Children []*Node

	parent   *Node
	detached bool
}

// El builds a node with the given tag and own text.
func El(tag, text string, children ...*Node) *Node {
	n := &Node{Tag: tag, Text: text}
	return n.Add(children...)
}

// Div builds a div.
func Div(text string, children ...*Node) *Node { return El("div", text, children...) }

// Span builds a span.
func Span(text string) *Node { return El("span", text) }

// H3 builds a level-3 heading.
func H3(text string) *Node { return El("h3", text) }

// Button builds a button whose accessible name is its text.
func Button(text string) *Node { return El("button", text) }

// Option builds a listbox option.
func Option(text string, children ...*Node) *Node {
	n := El("div", text, children...)
	n.Role = "option"
	return n
}

// Textbox builds an input labelled name.
func Textbox(name string) *Node {
	return &Node{Tag: "input", Role: "textbox", Name: name}
}

// Label builds a label containing a clickable span, the way the portal renders
// checkboxes.
func Label(text string) *Node {
	return El("label", "", Span(text))
}

// Add appends children and returns n.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		if c == nil {
			continue
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// WithRole sets the ARIA role.
func (n *Node) WithRole(role string) *Node { n.Role = role; return n }

// WithName sets the accessible name.
func (n *Node) WithName(name string) *Node { n.Name = name; return n }

// WithClass appends CSS classes.
func (n *Node) WithClass(classes ...string) *Node {
	n.Classes = append(n.Classes, classes...)
	return n
}

// WithTestID sets data-testid.
func (n *Node) WithTestID(id string) *Node { n.TestID = id; return n }

// WithTitle sets the title attribute.
func (n *Node) WithTitle(title string) *Node { n.Title = title; return n }

// WithAttr sets an attribute.
func (n *Node) WithAttr(key, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[key] = value
	return n
}

// WithSelector registers CSS selectors that match this node.
func (n *Node) WithSelector(css ...string) *Node {
	n.Selectors = append(n.Selectors, css...)
	return n
}

// Hide marks the node invisible.
func (n *Node) Hide() *Node { n.Hidden = true; return n }

// Reveals makes nodes visible when n is hovered.
func (n *Node) Reveals(nodes ...*Node) *Node {
	n.Reveal = append(n.Reveal, nodes...)
	return n
}

// Hovered installs an OnHover hook.
func (n *Node) Hovered(fn func(p *Page)) *Node { n.OnHover = fn; return n }

// Clicked installs an OnClick hook.
func (n *Node) Clicked(fn func(p *Page)) *Node { n.OnClick = fn; return n }

// Filled installs an OnFill hook.
func (n *Node) Filled(fn func(p *Page, value string)) *Node { n.OnFill = fn; return n }

// Detach removes n from its parent; existing references become stale.
func (n *Node) Detach() {
	if n.parent != nil {
		kids := n.parent.Children[:0]
		for _, c := range n.parent.Children {
			if c != n {
				kids = append(kids, c)
			}
		}
		n.parent.Children = kids
		n.parent = nil
	}
	n.walk(func(c *Node) { c.detached = true })
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// FullText is the own text plus every descendant's text, space-joined.
func (n *Node) FullText() string {
	var parts []string
	n.walk(func(c *Node) {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	})
	return browser.NormalizeSpace(strings.Join(parts, " "))
}

func (n *Node) role() string {
	if n.Role != "" {
		return n.Role
	}
	switch strings.ToLower(n.Tag) {
	case "button":
		return "button"
	case "a":
		return "link"
	case "nav":
		return "navigation"
	case "option":
		return "option"
	case "input", "textarea":
		return "textbox"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	}
	return ""
}

func (n *Node) accessibleName() string {
	if n.Name != "" {
		return browser.NormalizeSpace(n.Name)
	}
	if n.role() == "textbox" {
		return ""
	}
	if text := n.FullText(); text != "" {
		return text
	}
	return n.Title
}

func (n *Node) hasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func (n *Node) attr(key string) (string, bool) {
	switch key {
	case "class":
		return strings.Join(n.Classes, " "), len(n.Classes) > 0
	case "title":
		return n.Title, n.Title != ""
	case "data-testid":
		return n.TestID, n.TestID != ""
	case "role":
		return n.Role, n.Role != ""
	}
	v, ok := n.Attrs[key]
	return v, ok
}

func (n *Node) matches(q browser.Query) bool {
	if q.Tag != "" && !strings.EqualFold(n.Tag, q.Tag) {
		return false
	}
	if q.Role != "" && n.role() != q.Role {
		return false
	}
	if q.Class != "" && !n.hasClass(q.Class) {
		return false
	}
	if q.TestID != "" && n.TestID != q.TestID {
		return false
	}
	if q.Title != "" && n.Title != q.Title {
		return false
	}
	for k, v := range q.Attrs {
		if got, ok := n.attr(k); !ok || got != v {
			return false
		}
	}
	if q.CSS != "" {
		found := false
		for _, s := range n.Selectors {
			if s == q.CSS {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Name != "" {
		name := n.accessibleName()
		want := browser.NormalizeSpace(q.Name)
		if q.ExactName {
			if name != want {
				return false
			}
		} else if !strings.Contains(strings.ToLower(name), strings.ToLower(want)) {
			return false
		}
	}
	if q.Text != nil {
		text := n.FullText()
		if q.OwnText {
			text = browser.NormalizeSpace(n.Text)
		}
		if !q.Text.Matches(text) {
			return false
		}
	}
	return true
}

func (n *Node) visible() bool {
	if n.detached {
		return false
	}
	for cur := n; cur != nil; cur = cur.parent {
		if cur.Hidden {
			return false
		}
	}
	return true
}

func (n *Node) label() string {
	switch {
	case n.TestID != "":
		return n.TestID
	case n.Name != "":
		return n.Name
	case n.Title != "":
		return n.Title
	case n.Text != "":
		return n.Text
	}
	if text := n.FullText(); text != "" {
		return text
	}
	return n.Tag
}

// FrameDoc is an iframe document.
type FrameDoc struct {
	Src  string
	Root *Node
}

// Page is a fake browser tab. It records every interaction in Events.
// It is not safe for concurrent use.
type Page struct {
	Root      *Node
	FrameDocs []*FrameDoc

	Events     []string
	Clicks     []*Node
	Settles    []time.Duration
	MouseMoves [][2]float64
	Navigated  []string
	CloseCount int

	// OnNavigate runs after Navigate records the URL.
	OnNavigate func(p *Page, url string)
	// ScreenshotPNG is returned by Screenshot.
	ScreenshotPNG []byte
	// ContentErr makes Content fail.
	ContentErr error
}

var _ browser.Page = (*Page)(nil)

// NewPage builds a page whose body holds the given nodes.
func NewPage(body ...*Node) *Page {
	return &Page{Root: El("body", "", body...), ScreenshotPNG: []byte("\x89PNG")}
}

// AddFrame appends an iframe document.
func (p *Page) AddFrame(src string, body ...*Node) *FrameDoc {
	f := &FrameDoc{Src: src, Root: El("body", "", body...)}
	p.FrameDocs = append(p.FrameDocs, f)
	return f
}

// Append adds nodes to the page body.
func (p *Page) Append(nodes ...*Node) { p.Root.Add(nodes...) }

// Replace swaps the page body for new content.
func (p *Page) Replace(nodes ...*Node) {
	for _, c := range append([]*Node(nil), p.Root.Children...) {
		c.Detach()
	}
	p.Root.Add(nodes...)
}

// WasClicked reports whether n was clicked.
func (p *Page) WasClicked(n *Node) bool {
	for _, c := range p.Clicks {
		if c == n {
			return true
		}
	}
	return false
}

func (p *Page) record(format string, args ...interface{}) {
	p.Events = append(p.Events, fmt.Sprintf(format, args...))
}

func find(ctx context.Context, p *Page, root *Node, q browser.Query) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if root == nil || root.detached {
		return nil, nil
	}
	var out []browser.Element
	for _, c := range root.Children {
		c.walk(func(n *Node) {
			if n.matches(q) {
				out = append(out, &element{page: p, node: n})
			}
		})
	}
	return out, nil
}

func (p *Page) Find(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	return find(ctx, p, p.Root, q)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Navigated = append(p.Navigated, url)
	p.record("navigate:%s", url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) Frames(ctx context.Context) ([]browser.Frame, error) {
	out := make([]browser.Frame, 0, len(p.FrameDocs))
	for i, f := range p.FrameDocs {
		out = append(out, &frame{page: p, index: i, doc: f})
	}
	return out, nil
}

// Settle records the requested duration without sleeping.
func (p *Page) Settle(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Settles = append(p.Settles, d)
	p.record("settle:%s", d)
	return nil
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	p.MouseMoves = append(p.MouseMoves, [2]float64{x, y})
	p.record("mouse:%g,%g", x, y)
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	var b strings.Builder
	b.WriteString("<html>")
	render(&b, p.Root)
	b.WriteString("</html>")
	return b.String(), nil
}

func render(b *strings.Builder, n *Node) {
	fmt.Fprintf(b, "<%s", n.Tag)
	if len(n.Classes) > 0 {
		fmt.Fprintf(b, " class=%q", strings.Join(n.Classes, " "))
	}
	if n.TestID != "" {
		fmt.Fprintf(b, " data-testid=%q", n.TestID)
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(n.Text))
	for _, c := range n.Children {
		render(b, c)
	}
	fmt.Fprintf(b, "</%s>", n.Tag)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.ScreenshotPNG, nil
}

func (p *Page) Close() error {
	p.CloseCount++
	return nil
}

type frame struct {
	page  *Page
	index int
	doc   *FrameDoc
}

func (f *frame) Find(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	return find(ctx, f.page, f.doc.Root, q)
}

func (f *frame) Index() int  { return f.index }
func (f *frame) Src() string { return f.doc.Src }

type element struct {
	page *Page
	node *Node
}

// NodeOf unwraps an element created by this package.
func NodeOf(el browser.Element) *Node {
	if e, ok := el.(*element); ok {
		return e.node
	}
	return nil
}

func (e *element) String() string { return fmt.Sprintf("<%s %q>", e.node.Tag, e.node.label()) }

func (e *element) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.node.detached {
		return browser.ErrDetached
	}
	return nil
}

func (e *element) Find(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	if err := e.live(ctx); err != nil {
		return nil, err
	}
	return find(ctx, e.page, e.node, q)
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := e.live(ctx); err != nil {
		return "", err
	}
	return e.node.FullText(), nil
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	if err := e.live(ctx); err != nil {
		return "", false, err
	}
	v, ok := e.node.attr(name)
	return v, ok, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	return e.node.visible(), nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	if e.node.ClickErr != nil {
		return e.node.ClickErr
	}
	if !e.node.visible() {
		return fmt.Errorf("browsertest: element %s has no box", e)
	}
	e.page.Clicks = append(e.page.Clicks, e.node)
	e.page.record("click:%s", e.node.label())
	if e.node.OnClick != nil {
		e.node.OnClick(e.page)
	}
	return nil
}

func (e *element) Fill(ctx context.Context, value string) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	if !e.node.visible() {
		return errors.New("browsertest: fill on hidden element")
	}
	e.node.Value = value
	e.page.record("fill:%s=%s", e.node.label(), value)
	if e.node.OnFill != nil {
		e.node.OnFill(e.page, value)
	}
	return nil
}

func (e *element) Press(ctx context.Context, key string) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	e.page.record("key:%s:%s", e.node.label(), key)
	return nil
}

func (e *element) Hover(ctx context.Context) error {
	if err := e.live(ctx); err != nil {
		return err
	}
	e.page.record("hover:%s", e.node.label())
	for _, n := range e.node.Reveal {
		n.Hidden = false
	}
	if e.node.OnHover != nil {
		e.node.OnHover(e.page)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.live(ctx)
}

func (e *element) Parent(ctx context.Context) (browser.Element, error) {
	if err := e.live(ctx); err != nil {
		return nil, err
	}
	if e.node.parent == nil {
		return nil, nil
	}
	return &element{page: e.page, node: e.node.parent}, nil
}

func (e *element) NextSibling(ctx context.Context) (browser.Element, error) {
	if err := e.live(ctx); err != nil {
		return nil, err
	}
	for cur := e.node.parent; cur != nil; cur = cur.parent {
		if !strings.EqualFold(cur.Tag, "div") || cur.parent == nil {
			continue
		}
		kids := cur.parent.Children
		for i, c := range kids {
			if c == cur && i+1 < len(kids) {
				return &element{page: e.page, node: kids[i+1]}, nil
			}
		}
	}
	return nil, nil
}
