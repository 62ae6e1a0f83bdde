package agenda

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
)

// Remove reopens the clinician's calendar and cancels the patient's
// appointment through its context menu.
func (s *Scheduler) Remove(ctx context.Context) error {
	s.logger.Info("starting appointment removal", "patient", s.patient)
	t := s.portal.Timeouts()

	if err := s.searchProfessional(ctx); err != nil {
		return err
	}
	if err := s.portal.Click(ctx, browser.ByRole("option", s.clinician)); err != nil {
		return err
	}
	if _, err := s.portal.Find(ctx, timeGrid, t.Field); err != nil {
		return err
	}
	if err := s.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}

	s.logger.Info("looking for appointment", "patient", s.patient)
	page := s.portal.Page()
	matches, err := page.Find(ctx, browser.Query{Tag: "div", Text: browser.StartsWith(s.patient)})
	if err != nil {
		return err
	}
	if len(matches) <= AppointmentMatchIndex {
		return s.appointmentNotFound(ctx, matches)
	}

	entry := matches[AppointmentMatchIndex]
	text, _ := entry.Text(ctx)
	s.logger.Info("appointment found", "total", len(matches), "text", text)
	if err := entry.Click(ctx); err != nil {
		return fmt.Errorf("agenda: open appointment: %w", err)
	}

	menu, err := closestScoped(ctx, entry, contextMenuButton)
	if err != nil {
		return err
	}
	if menu == nil {
		s.logger.Error("appointment has no options menu", "text", text)
		return s.appointmentNotFound(ctx, matches)
	}
	if err := menu.Click(ctx); err != nil {
		return fmt.Errorf("agenda: open appointment menu: %w", err)
	}

	item, err := s.portal.Find(ctx, cancelItem, t.Action)
	if err != nil {
		return err
	}
	target := item
	if inner, err := browser.First(ctx, item, browser.Query{Tag: "div"}); err == nil && inner != nil {
		target = inner
	}
	if err := target.Click(ctx); err != nil {
		return fmt.Errorf("agenda: cancel appointment: %w", err)
	}
	if err := s.portal.Click(ctx, deleteButton); err != nil {
		return err
	}
	s.logger.Info("appointment removed", "patient", s.patient)

	if err := s.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	s.logger.Info("removal finished")
	return nil
}

func (s *Scheduler) appointmentNotFound(ctx context.Context, matches []browser.Element) error {
	texts := browser.Texts(ctx, matches, 0)
	candidates := make([]portal.Candidate, 0, len(texts))
	for i, text := range texts {
		candidates = append(candidates, portal.Candidate{Index: i, Text: text})
	}
	s.logger.Warn("no appointment to remove", "patient", s.patient, "matches", len(matches), "texts", strings.Join(texts, " | "))
	return &portal.SearchError{Err: portal.ErrAppointmentNotFound, Target: s.patient, Candidates: candidates}
}

// closestScoped walks up from el and returns the first match of q inside the
// nearest ancestor that contains one.
func closestScoped(ctx context.Context, el browser.Element, q browser.Query) (browser.Element, error) {
	cur := el
	for {
		parent, err := cur.Parent(ctx)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, nil
		}
		found, err := browser.First(ctx, parent, q)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
		cur = parent
	}
}
