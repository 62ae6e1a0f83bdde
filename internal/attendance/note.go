package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
)

// StandardCode is the CIAP-2 code recorded by FillStandardNote (fever).
const StandardCode = "A03"

const (
	codeSearch    = "a03"
	codeOption    = "FEBRE Código A03 Inclui:"
	dischargeText = "Alta do episódio"

	StepAddProblem = "adicionar"
	StepFinalize   = "finalizar"
)

var (
	soapTab        = browser.ByRole("tab", "SOAP")
	reasonField    = browser.ByRole("textbox", "Motivo da consulta (CIAP 2)")
	problemCIAP    = browser.ByTestID("ProblemasCondicoesForm.ciap")
	addProblem     = browser.ByTestID("ProblemasCondicoesFormFooterButtons.adicionar")
	finalizeButton = browser.ByTestID("AtendimentoIndividualFooter.finalizar")
	feverOption    = browser.ByRole("option", codeOption)
)

// NoteState is how FillStandardNote ended.
type NoteState string

const (
	NoteCompleted            NoteState = "completed"
	NoteAwaitingIntervention NoteState = "awaiting_intervention"
)

// FormStepError is a note step that failed but was handed to an operator
// instead of aborting the run.
type FormStepError struct {
	Step string
	Err  error
}

func (e *FormStepError) Error() string {
	return fmt.Sprintf("attendance: form step %q: %v", e.Step, e.Err)
}

func (e *FormStepError) Unwrap() error { return e.Err }

func (e *FormStepError) Is(target error) bool { return target == portal.ErrRecoverableForm }

// NoteResult reports the outcome of FillStandardNote.
type NoteResult struct {
	Code    string           `json:"code"`
	State   NoteState        `json:"state"`
	Pending []*FormStepError `json:"-"`
}

// FillStandardNote records CIAP-2 A03 in the SOAP tab, adds the problem,
// discharges the episode and finalizes the encounter. Failures to add or
// finalize do not abort: they are handed to the intervener and reported in
// the result state.
func (w *Workflow) FillStandardNote(ctx context.Context) (*NoteResult, error) {
	w.logger.Info("filling SOAP note", "code", StandardCode)
	t := w.portal.Timeouts()

	if err := w.portal.Click(ctx, soapTab); err != nil {
		return nil, err
	}

	reason, err := w.portal.Find(ctx, reasonField, t.Field)
	if err != nil {
		return nil, err
	}
	if err := w.enterCode(ctx, reason, 0); err != nil {
		return nil, err
	}

	ciap, err := w.portal.Find(ctx, problemCIAP, t.Field)
	if err != nil {
		return nil, err
	}
	if err := w.enterCode(ctx, ciap, t.Settle); err != nil {
		return nil, err
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return nil, err
	}

	result := &NoteResult{Code: StandardCode, State: NoteCompleted}
	if err := w.bestEffort(ctx, result, StepAddProblem, addProblem); err != nil {
		return result, err
	}
	if err := w.portal.Settle(ctx, t.Settle); err != nil {
		return result, err
	}
	if err := w.portal.ToggleLabel(ctx, dischargeText); err != nil {
		return result, err
	}
	if err := w.bestEffort(ctx, result, StepFinalize, finalizeButton); err != nil {
		return result, err
	}

	if len(result.Pending) > 0 {
		result.State = NoteAwaitingIntervention
		w.logger.Warn("SOAP note needs manual completion", "code", StandardCode, "pending", len(result.Pending))
	} else {
		w.logger.Info("SOAP note filled and finalized", "code", StandardCode)
	}
	return result, nil
}

func (w *Workflow) enterCode(ctx context.Context, field browser.Element, pause time.Duration) error {
	if err := field.Click(ctx); err != nil {
		return fmt.Errorf("attendance: focus code field: %w", err)
	}
	if pause > 0 {
		if err := w.portal.Settle(ctx, pause); err != nil {
			return err
		}
	}
	if err := field.Fill(ctx, codeSearch); err != nil {
		return fmt.Errorf("attendance: fill code: %w", err)
	}
	return w.portal.Click(ctx, feverOption)
}

// bestEffort clicks q; on failure the operator is asked to finish the step.
// Only a failed intervention (cancellation) is returned.
func (w *Workflow) bestEffort(ctx context.Context, result *NoteResult, step string, q browser.Query) error {
	err := w.portal.Click(ctx, q)
	if err == nil {
		w.logger.Info("form step done", "step", step)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	stepErr := &FormStepError{Step: step, Err: err}
	w.logger.Error("form step failed", "step", step, "error", err)
	result.Pending = append(result.Pending, stepErr)
	return w.intervener.AwaitIntervention(ctx, portal.Intervention{Step: step, Err: stepErr})
}
