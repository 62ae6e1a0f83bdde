// Package browser defines the element-query capability the portal workflows
// are written against, and its chromedp implementation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scope is anything elements can be searched in: a page, a frame or an element.
type Scope interface {
	Find(ctx context.Context, q Query) ([]Element, error)
}

// Page is a single live browser tab.
type Page interface {
	Scope
	Navigate(ctx context.Context, url string) error
	Frames(ctx context.Context) ([]Frame, error)
	// Settle pauses for a fixed minimum time so the page can finish rendering.
	Settle(ctx context.Context, d time.Duration) error
	MouseMove(ctx context.Context, x, y float64) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Frame is an embedded document (iframe) of a page.
type Frame interface {
	Scope
	Index() int
	Src() string
}

// Element is a reference to a node found by a query. References are only
// valid while the node stays attached to the document.
type Element interface {
	Scope
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Press(ctx context.Context, key string) error
	Hover(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	// Parent returns the direct parent element, or nil at the document root.
	Parent(ctx context.Context) (Element, error)
	// NextSibling returns the element following the nearest ancestor div that
	// has a following sibling, or nil when there is none.
	NextSibling(ctx context.Context) (Element, error)
	String() string
}

// Key names accepted by Element.Press.
const (
	KeyArrowDown = "ArrowDown"
	KeyEnter     = "Enter"
	KeyEscape    = "Escape"
)

var (
	// ErrTimeout is matched by every bounded wait that expired.
	ErrTimeout = errors.New("operation timed out")
	// ErrDetached is returned when an element reference no longer resolves.
	ErrDetached = errors.New("element detached from document")
)

// TimeoutError reports which wait expired.
type TimeoutError struct {
	Query   Query
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("browser: timed out after %s waiting for %s", e.Timeout, e.Query)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// TextMode selects how a TextMatch compares text.
type TextMode string

const (
	TextContains TextMode = "contains"
	TextPrefix   TextMode = "prefix"
	TextExact    TextMode = "exact"
	TextEmpty    TextMode = "empty"
)

// TextMatch filters elements by their whitespace-normalized text.
type TextMatch struct {
	Mode       TextMode `json:"mode"`
	Value      string   `json:"value"`
	IgnoreCase bool     `json:"ignoreCase"`
}

// Contains matches text containing s, ignoring case.
func Contains(s string) *TextMatch {
	return &TextMatch{Mode: TextContains, Value: s, IgnoreCase: true}
}

// StartsWith matches text beginning with s, ignoring case.
func StartsWith(s string) *TextMatch {
	return &TextMatch{Mode: TextPrefix, Value: s, IgnoreCase: true}
}

// Exactly matches text equal to s.
func Exactly(s string) *TextMatch {
	return &TextMatch{Mode: TextExact, Value: s}
}

// Empty matches elements without text.
func Empty() *TextMatch {
	return &TextMatch{Mode: TextEmpty}
}

// Matches reports whether text satisfies the match. A nil match accepts anything.
func (m *TextMatch) Matches(text string) bool {
	if m == nil {
		return true
	}
	t := NormalizeSpace(text)
	v := NormalizeSpace(m.Value)
	if m.IgnoreCase {
		t = strings.ToLower(t)
		v = strings.ToLower(v)
	}
	switch m.Mode {
	case TextPrefix:
		return strings.HasPrefix(t, v)
	case TextExact:
		return t == v
	case TextEmpty:
		return t == ""
	default:
		return strings.Contains(t, v)
	}
}

func (m *TextMatch) String() string {
	if m == nil {
		return ""
	}
	if m.Mode == TextEmpty {
		return "empty"
	}
	s := fmt.Sprintf("%s %q", m.Mode, m.Value)
	if m.IgnoreCase {
		s += "/i"
	}
	return s
}

// Query describes an element search. All set fields must match.
type Query struct {
	Role      string            `json:"role,omitempty"`
	Name      string            `json:"name,omitempty"`
	ExactName bool              `json:"exactName,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Class     string            `json:"class,omitempty"`
	TestID    string            `json:"testId,omitempty"`
	Title     string            `json:"title,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CSS       string            `json:"css,omitempty"`
	Text      *TextMatch        `json:"text,omitempty"`
	// OwnText matches Text against the element's direct text nodes only.
	OwnText bool `json:"ownText,omitempty"`
}

func (q Query) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("role", q.Role)
	if q.Name != "" {
		add("name", fmt.Sprintf("%q", q.Name))
	}
	add("tag", q.Tag)
	add("class", q.Class)
	add("testid", q.TestID)
	add("title", q.Title)
	add("css", q.CSS)
	for k, v := range q.Attrs {
		add("@"+k, v)
	}
	if q.Text != nil {
		add("text", q.Text.String())
	}
	if len(parts) == 0 {
		return "query{*}"
	}
	return "query{" + strings.Join(parts, " ") + "}"
}

// ByRole queries by ARIA role and accessible name.
func ByRole(role, name string) Query {
	return Query{Role: role, Name: name}
}

// ByTestID queries by data-testid.
func ByTestID(id string) Query {
	return Query{TestID: id}
}

// NormalizeSpace collapses whitespace runs and trims the result.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
