// Package attendance queues a patient for care, opens the encounter and
// records the standard SOAP note.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

const (
	queueLink           = "Lista de atendimentos"
	nameLabel           = "Nome"
	spontaneousDemand   = "DEMANDA ESPONTÂNEA"
	professionalOptions = 3
)

var (
	addCitizenButton = browser.ByTestID("adicionarCidadaoAtendimento")
	fullNameField    = browser.ByRole("textbox", "Digite o nome completo do")
	citizenField     = browser.ByRole("textbox", "Cidadão*")
	professionalBox  = browser.ByRole("textbox", "Profissional")
	addToQueue       = browser.ByTestID("adicionarAtendimento")
)

// Workflow drives the service queue and encounter screens.
type Workflow struct {
	portal     *portal.Portal
	logger     *logging.Logger
	clinician  string
	patient    string
	intervener portal.Intervener
}

// New creates a Workflow. A nil intervener records pauses without blocking.
func New(p *portal.Portal, clinician, patient string, iv portal.Intervener) *Workflow {
	logger := p.Logger().Component("attendance")
	if iv == nil {
		iv = &portal.LogIntervener{Logger: logger}
	}
	return &Workflow{
		portal:     p,
		logger:     logger,
		clinician:  clinician,
		patient:    patient,
		intervener: iv,
	}
}

// QueuePatient adds the patient to the service queue under the clinician as
// spontaneous demand.
func (w *Workflow) QueuePatient(ctx context.Context) error {
	w.logger.Info("opening service queue")
	page := w.portal.Page()
	t := w.portal.Timeouts()

	if err := w.portal.OpenModule(ctx, queueLink); err != nil {
		return err
	}
	if err := page.MouseMove(ctx, 0, 0); err != nil {
		return err
	}
	if err := w.portal.Click(ctx, addCitizenButton); err != nil {
		return err
	}

	field, err := w.citizenInput(ctx)
	if err != nil {
		return err
	}
	if err := field.Fill(ctx, strings.ToLower(w.patient)); err != nil {
		return fmt.Errorf("attendance: fill citizen: %w", err)
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	if err := w.portal.Click(ctx, browser.ByRole("option", w.patient)); err != nil {
		return err
	}
	w.logger.Info("patient selected", "patient", w.patient)

	if err := w.selectProfessional(ctx); err != nil {
		return err
	}

	w.logger.Info("queueing encounter", "patient", w.patient)
	if err := w.portal.ToggleLabel(ctx, spontaneousDemand); err != nil {
		return err
	}
	if err := w.portal.Click(ctx, addToQueue); err != nil {
		return err
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	w.logger.Info("service queue updated")
	return page.MouseMove(ctx, 0, 0)
}

// citizenInput reveals the citizen field. Clicking the "Nome" label is
// attempted first; the fallback field is looked up whether or not that click
// happened.
func (w *Workflow) citizenInput(ctx context.Context) (browser.Element, error) {
	t := w.portal.Timeouts()
	if err := w.portal.ClickLabel(ctx, nameLabel, t.Short); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Info("name label not clickable, continuing without it", "error", err)
	} else {
		w.logger.Info("clicked name label to reveal citizen field")
	}

	field, err := w.portal.Find(ctx, fullNameField, t.Field)
	if err == nil {
		w.logger.Info("full name field found")
		return field, nil
	}
	if !errors.Is(err, browser.ErrTimeout) {
		return nil, err
	}
	w.logger.Info("full name field not found, trying citizen field", "error", err)
	field, err = w.portal.Find(ctx, citizenField, t.Field)
	if err != nil {
		return nil, err
	}
	w.logger.Info("citizen field found")
	return field, nil
}

func (w *Workflow) selectProfessional(ctx context.Context) error {
	t := w.portal.Timeouts()
	if _, err := w.portal.Fill(ctx, professionalBox, strings.ToLower(w.clinician), t.Field); err != nil {
		return err
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}

	page := w.portal.Page()
	options, err := page.Find(ctx, browser.Query{Role: "option", Text: browser.Contains(w.clinician)})
	if err != nil {
		return err
	}
	w.logger.Info("professional options found", "clinician", w.clinician, "count", len(options))
	if len(options) == 0 {
		dump, err := w.portal.Dump(ctx, page, browser.Query{Role: "option"}, "", nil)
		if err != nil {
			return err
		}
		w.logger.Error("no option for professional", "clinician", w.clinician)
		return &portal.SearchError{Err: portal.ErrProfessionalNotFound, Target: w.clinician, Candidates: dump}
	}

	for i, text := range browser.Texts(ctx, options, professionalOptions) {
		w.logger.Info("professional option", "index", i, "text", text)
	}
	first := options[0]
	text, _ := first.Text(ctx)
	w.logger.Info("selecting professional", "option", text)
	if err := first.Click(ctx); err != nil {
		return fmt.Errorf("attendance: select professional: %w", err)
	}
	w.logger.Info("professional selected", "clinician", w.clinician)
	return nil
}
