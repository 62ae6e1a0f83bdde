package browser

import (
	"context"
	"time"
)

// PollInterval is how often Wait re-runs its query.
var PollInterval = 100 * time.Millisecond

// Wait polls scope until q yields a visible element or timeout expires.
// Expiry returns a *TimeoutError.
func Wait(ctx context.Context, scope Scope, q Query, timeout time.Duration) (Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		el, err := FirstVisible(waitCtx, scope, q)
		if err == nil && el != nil {
			return el, nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &TimeoutError{Query: q, Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// WaitElement polls a single element until it is visible or timeout expires.
func WaitElement(ctx context.Context, el Element, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		if ok, err := el.Visible(waitCtx); err == nil && ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return &TimeoutError{Query: Query{CSS: el.String()}, Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// First returns the first match of q in scope, or nil when nothing matches.
func First(ctx context.Context, scope Scope, q Query) (Element, error) {
	els, err := scope.Find(ctx, q)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// FirstVisible returns the first visible match of q in scope, or nil.
func FirstVisible(ctx context.Context, scope Scope, q Query) (Element, error) {
	els, err := scope.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			return el, nil
		}
	}
	return nil, nil
}

// Texts reads the text of up to limit elements; limit <= 0 reads all.
// Elements whose text cannot be read are reported as empty strings.
func Texts(ctx context.Context, els []Element, limit int) []string {
	if limit <= 0 || limit > len(els) {
		limit = len(els)
	}
	out := make([]string, 0, limit)
	for _, el := range els[:limit] {
		text, err := el.Text(ctx)
		if err != nil {
			text = ""
		}
		out = append(out, text)
	}
	return out
}
