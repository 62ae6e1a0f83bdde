package portal

import (
	"context"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
)

// TagLookup returns the text of the credential tag carried by candidate, or
// ok=false when the candidate has none.
type TagLookup func(ctx context.Context, candidate browser.Element, tag string) (text string, ok bool, err error)

// Match is the candidate chosen by ResolveByTag.
type Match struct {
	Element browser.Element
	Index   int
	Text    string
	Tag     string
}

// ResolveByTag walks candidates in document order and returns the first one
// carrying any of tags. Tags are tried in order for each candidate before
// moving on, so a primary-tag match later in the list loses to an earlier
// candidate with only the fallback tag. The second result lists every
// candidate examined. A nil Match with a nil error means nothing qualified.
func (p *Portal) ResolveByTag(ctx context.Context, candidates []browser.Element, tags []string, lookup TagLookup) (*Match, []Candidate, error) {
	seen := make([]Candidate, 0, len(candidates))
	for i, el := range candidates {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, seen, err
		}
		p.logger.Info("checking candidate", "index", i, "text", text)

		for _, tag := range tags {
			found, ok, err := lookup(ctx, el, tag)
			if err != nil {
				return nil, seen, err
			}
			if ok {
				seen = append(seen, Candidate{Index: i, Text: text, Tag: found})
				p.logger.Info("candidate matched credential tag", "index", i, "text", text, "tag", found)
				return &Match{Element: el, Index: i, Text: text, Tag: found}, seen, nil
			}
			p.logger.Info("credential tag absent", "index", i, "text", text, "tag", tag)
		}
		seen = append(seen, Candidate{Index: i, Text: text})
	}
	return nil, seen, nil
}

// Dump lists every element matching q for diagnosis. When lookup is set each
// entry carries its detected tag, or NoTagFound.
func (p *Portal) Dump(ctx context.Context, scope browser.Scope, q browser.Query, tag string, lookup TagLookup) ([]Candidate, error) {
	els, err := scope.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	p.logger.Info("diagnostic dump", "query", q.String(), "total", len(els))

	out := make([]Candidate, 0, len(els))
	for i, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			text = ""
		}
		c := Candidate{Index: i, Text: text}
		if lookup != nil {
			found, ok, err := lookup(ctx, el, tag)
			if err != nil || !ok {
				found = NoTagFound
			}
			c.Tag = found
		}
		p.logger.Info("candidate", "index", i, "text", c.Text, "tag", c.Tag)
		out = append(out, c)
	}
	return out, nil
}

// SpanTag finds a span containing tag inside the candidate itself.
func SpanTag(ctx context.Context, candidate browser.Element, tag string) (string, bool, error) {
	return firstSpan(ctx, candidate, tag)
}

// SiblingSpanTag finds a span containing tag in the structural sibling that
// follows the candidate's enclosing div.
func SiblingSpanTag(ctx context.Context, candidate browser.Element, tag string) (string, bool, error) {
	sib, err := candidate.NextSibling(ctx)
	if err != nil || sib == nil {
		return "", false, err
	}
	return firstSpan(ctx, sib, tag)
}

func firstSpan(ctx context.Context, scope browser.Scope, tag string) (string, bool, error) {
	span, err := browser.First(ctx, scope, browser.Query{Tag: "span", Text: browser.Contains(tag)})
	if err != nil || span == nil {
		return "", false, err
	}
	text, err := span.Text(ctx)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
