package attendance

import (
	"context"
	"fmt"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
)

const (
	pageTextDump    = 10
	contextTextDump = 5
	textlessLogged  = 5
)

var (
	attendByTitle = browser.Query{Tag: "button", Title: "Atender"}
	// Icon-only buttons. The first one on the queue page is the attend action
	// of the first row; this is a rendering artifact, kept as a fallback. It is
	// used as is: a hidden first match fails the lookup.
	textlessButton = browser.Query{Role: "button", Text: browser.Empty()}
	everything     = browser.Query{}
)

// Attend finds the patient in the service queue and opens the encounter.
func (w *Workflow) Attend(ctx context.Context) error {
	w.logger.Info("looking for patient in service queue", "patient", w.patient)
	page := w.portal.Page()

	matches, err := page.Find(ctx, browser.Query{Text: browser.Contains(w.patient), OwnText: true})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return w.patientNotFound(ctx)
	}
	patientEl := matches[0]
	text, _ := patientEl.Text(ctx)
	w.logger.Info("patient found", "text", text)

	button, err := w.attendButton(ctx)
	if err != nil {
		return err
	}
	if button == nil || !visible(ctx, button) {
		return w.attendButtonNotFound(ctx, patientEl)
	}

	if err := button.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("attendance: scroll to attend: %w", err)
	}
	if err := browser.WaitElement(ctx, button, w.portal.Timeouts().Short); err != nil {
		return err
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("attendance: attend: %w", err)
	}
	w.logger.Info("attend clicked", "patient", w.patient)
	return nil
}

func (w *Workflow) attendButton(ctx context.Context) (browser.Element, error) {
	page := w.portal.Page()
	titled, err := page.Find(ctx, attendByTitle)
	if err != nil {
		return nil, err
	}
	w.logger.Info("attend buttons with title", "count", len(titled))
	if len(titled) > 0 && visible(ctx, titled[0]) {
		return titled[0], nil
	}

	w.logger.Info("titled attend button missing or hidden, trying buttons without text")
	textless, err := page.Find(ctx, textlessButton)
	if err != nil {
		return nil, err
	}
	w.logger.Info("buttons without text", "count", len(textless))
	for i, b := range textless {
		if i >= textlessLogged {
			break
		}
		title, ok, err := b.Attr(ctx, "title")
		if err != nil || !ok || title == "" {
			title = "Sem title"
		}
		w.logger.Info("button without text", "index", i, "title", title)
	}
	if len(textless) == 0 {
		return nil, nil
	}
	return textless[0], nil
}

func (w *Workflow) patientNotFound(ctx context.Context) error {
	all, err := w.portal.Page().Find(ctx, everything)
	if err != nil {
		return err
	}
	w.logger.Info("patient not in queue", "patient", w.patient, "page_texts", len(all))
	candidates := textCandidates(browser.Texts(ctx, all, pageTextDump))
	for _, c := range candidates {
		w.logger.Info("page text", "index", c.Index, "text", c.Text)
	}
	return &portal.SearchError{Err: portal.ErrPatientNotFound, Target: w.patient, Candidates: candidates}
}

func (w *Workflow) attendButtonNotFound(ctx context.Context, patientEl browser.Element) error {
	w.logger.Warn("attend button not visible", "patient", w.patient)
	var candidates []portal.Candidate
	if parent, err := patientEl.Parent(ctx); err == nil && parent != nil {
		els, err := parent.Find(ctx, everything)
		if err == nil {
			w.logger.Info("patient context texts", "count", len(els))
			candidates = textCandidates(browser.Texts(ctx, els, contextTextDump))
			for _, c := range candidates {
				w.logger.Info("context text", "index", c.Index, "text", c.Text)
			}
		}
	}
	return &portal.SearchError{Err: portal.ErrAttendButtonNotFound, Target: w.patient, Candidates: candidates}
}

func textCandidates(texts []string) []portal.Candidate {
	out := make([]portal.Candidate, 0, len(texts))
	for i, t := range texts {
		out = append(out, portal.Candidate{Index: i, Text: t})
	}
	return out
}

func visible(ctx context.Context, el browser.Element) bool {
	if el == nil {
		return false
	}
	ok, err := el.Visible(ctx)
	return err == nil && ok
}
