// Package agenda books an appointment in a clinician's calendar and removes
// it again, exercising the portal's scheduling screens end to end.
package agenda

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/portal"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// ProfessionalTags are tried in order against each clinician option.
var ProfessionalTags = []string{
	"ENFERMEIRO DA ESTRATÉGIA DE SAÚDE DA FAMÍLIA",
	"ENFERMEIRO",
}

// AppointmentMatchIndex is the position, among all divs whose text starts
// with the patient name, of the calendar entry to cancel. The calendar
// renders wrapper and label divs ahead of the clickable entry; revisit this
// against the live page before changing it.
const AppointmentMatchIndex = 2

// NoSlotLabel is recorded when an available slot has no time label.
const NoSlotLabel = "sem horário"

const (
	agendaLink          = "Agenda"
	slotAvailableClass  = "rbc-time-slot-available"
	addAppointmentLabel = "Adicionar agendamento"
	printReceiptLabel   = "Imprimir comprovante ao salvar"
)

var (
	professionalSearch = browser.ByRole("textbox", "Busque um profissional pelo")
	timeGrid           = browser.Query{Class: "rbc-time-content"}
	slotGroups         = browser.Query{Class: "rbc-timeslot-group"}
	slotLabel          = browser.Query{Class: "rbc-label"}
	slotCell           = browser.Query{Class: "rbc-time-slot"}
	addButton          = browser.Query{Tag: "button", Text: browser.Contains(addAppointmentLabel)}
	citizenField       = browser.ByRole("textbox", "Cidadão*")
	saveButton         = browser.ByRole("button", "Salvar")
	contextMenuButton  = browser.Query{Tag: "button", Attrs: map[string]string{"aria-haspopup": "true"}}
	cancelItem         = browser.ByRole("menuitem", "Cancelar")
	deleteButton       = browser.ByRole("button", "Excluir")
)

// Booking describes the appointment created and removed by Schedule.
type Booking struct {
	Clinician    string `json:"clinician"`
	Professional string `json:"professional"`
	Patient      string `json:"patient"`
	Slot         string `json:"slot"`
	Removed      bool   `json:"removed"`
}

// Scheduler runs the calendar workflow for one clinician and patient.
type Scheduler struct {
	portal    *portal.Portal
	logger    *logging.Logger
	clinician string
	patient   string
}

// New creates a Scheduler on top of a logged-in portal.
func New(p *portal.Portal, clinician, patient string) *Scheduler {
	return &Scheduler{
		portal:    p,
		logger:    p.Logger().Component("agenda"),
		clinician: clinician,
		patient:   patient,
	}
}

// Schedule books an appointment and immediately removes it.
func (s *Scheduler) Schedule(ctx context.Context) (*Booking, error) {
	booking, err := s.Book(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Remove(ctx); err != nil {
		return booking, err
	}
	booking.Removed = true
	return booking, nil
}

// Book opens the clinician's calendar, takes the first available slot and
// saves an appointment for the patient.
func (s *Scheduler) Book(ctx context.Context) (*Booking, error) {
	s.logger.Info("starting appointment booking", "clinician", s.clinician, "patient", s.patient)
	t := s.portal.Timeouts()

	if err := s.searchProfessional(ctx); err != nil {
		return nil, err
	}
	if err := s.portal.Settle(ctx, t.Settle); err != nil {
		return nil, err
	}
	professional, err := s.selectProfessional(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.waitGrid(ctx); err != nil {
		return nil, err
	}
	slot, err := s.pickSlot(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.choosePatient(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("ticking print receipt")
	if err := s.portal.ToggleLabel(ctx, printReceiptLabel); err != nil {
		return nil, err
	}
	if err := s.portal.Click(ctx, saveButton); err != nil {
		return nil, err
	}
	s.logger.Info("appointment saved", "slot", slot, "patient", s.patient)

	return &Booking{
		Clinician:    s.clinician,
		Professional: professional,
		Patient:      s.patient,
		Slot:         slot,
	}, nil
}

func (s *Scheduler) searchProfessional(ctx context.Context) error {
	if err := s.portal.OpenModule(ctx, agendaLink); err != nil {
		return err
	}
	field, err := s.portal.Find(ctx, professionalSearch, s.portal.Timeouts().Field)
	if err != nil {
		return err
	}
	if err := field.Click(ctx); err != nil {
		return fmt.Errorf("agenda: focus professional search: %w", err)
	}
	if err := field.Fill(ctx, strings.ToLower(s.clinician)); err != nil {
		return fmt.Errorf("agenda: search professional: %w", err)
	}
	return nil
}

func (s *Scheduler) selectProfessional(ctx context.Context) (string, error) {
	s.logger.Info("looking for professional", "clinician", s.clinician, "tags", ProfessionalTags)
	page := s.portal.Page()
	options, err := page.Find(ctx, browser.Query{Role: "option", Text: browser.Contains(s.clinician)})
	if err != nil {
		return "", err
	}
	s.logger.Info("professional options found", "count", len(options))

	match, _, err := s.portal.ResolveByTag(ctx, options, ProfessionalTags, portal.SpanTag)
	if err != nil {
		return "", err
	}
	if match == nil {
		dump, err := s.portal.Dump(ctx, page, browser.Query{Role: "option"}, ProfessionalTags[len(ProfessionalTags)-1], portal.SpanTag)
		if err != nil {
			return "", err
		}
		s.logger.Error("no professional with matching credential tag", "clinician", s.clinician)
		return "", &portal.SearchError{Err: portal.ErrProfessionalNotFound, Target: s.clinician, Candidates: dump}
	}
	if err := match.Element.Click(ctx); err != nil {
		return "", fmt.Errorf("agenda: select professional: %w", err)
	}
	s.logger.Info("professional selected", "option", match.Text, "tag", match.Tag)
	return match.Text, nil
}

func (s *Scheduler) waitGrid(ctx context.Context) error {
	s.logger.Info("waiting for time grid")
	t := s.portal.Timeouts()
	grid, err := s.portal.Find(ctx, timeGrid, t.Field)
	if err != nil {
		return err
	}
	if err := s.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	if err := grid.Click(ctx); err != nil {
		return fmt.Errorf("agenda: focus time grid: %w", err)
	}
	return nil
}

// pickSlot clicks the add button of the first slot that is marked available
// and whose button is visible once hovered.
func (s *Scheduler) pickSlot(ctx context.Context) (string, error) {
	s.logger.Info("scanning time slots")
	groups, err := s.portal.Page().Find(ctx, slotGroups)
	if err != nil {
		return "", err
	}

	var seen []portal.Candidate
	for i, group := range groups {
		label := NoSlotLabel
		if el, err := browser.First(ctx, group, slotLabel); err == nil && el != nil {
			if text, err := el.Text(ctx); err == nil {
				label = text
			}
		}

		slot, err := browser.First(ctx, group, slotCell)
		if err != nil {
			return "", err
		}
		if slot == nil {
			seen = append(seen, portal.Candidate{Index: i, Text: label})
			continue
		}
		classes, _, err := slot.Attr(ctx, "class")
		if err != nil {
			return "", err
		}
		seen = append(seen, portal.Candidate{Index: i, Text: label, Tag: classes})

		before, err := browser.First(ctx, slot, addButton)
		if err != nil {
			return "", err
		}
		s.logger.Info("checking slot", "index", i, "classes", classes, "time", label, "button_visible", visible(ctx, before))

		if !strings.Contains(classes, slotAvailableClass) {
			continue
		}
		// The add button may only be mounted while the slot is hovered.
		if err := slot.Hover(ctx); err != nil {
			return "", fmt.Errorf("agenda: hover slot %d: %w", i, err)
		}
		if err := s.portal.Settle(ctx, s.portal.Timeouts().Hover); err != nil {
			return "", err
		}
		button, err := browser.First(ctx, slot, addButton)
		if err != nil {
			return "", err
		}
		if !visible(ctx, button) {
			continue
		}
		s.logger.Info("available slot found", "time", label)
		if err := button.Click(ctx); err != nil {
			return "", fmt.Errorf("agenda: open slot %s: %w", label, err)
		}
		s.logger.Info("slot selected", "time", label)
		return label, nil
	}

	s.logger.Warn("no available slot", "clinician", s.clinician, "slots", len(groups))
	return "", &portal.SearchError{Err: portal.ErrNoAvailableSlot, Target: s.clinician, Candidates: seen}
}

// choosePatient confirms the patient suggestion with the keyboard; clicking
// the suggestion does not register on this form.
func (s *Scheduler) choosePatient(ctx context.Context) error {
	s.logger.Info("waiting for appointment form")
	t := s.portal.Timeouts()
	field, err := s.portal.Find(ctx, citizenField, t.Field)
	if err != nil {
		return err
	}
	if err := s.portal.Settle(ctx, t.FormSettle); err != nil {
		return err
	}

	s.logger.Info("selecting citizen", "patient", s.patient)
	if err := field.Click(ctx); err != nil {
		return fmt.Errorf("agenda: focus citizen field: %w", err)
	}
	if err := field.Fill(ctx, strings.ToLower(s.patient)); err != nil {
		return fmt.Errorf("agenda: fill citizen: %w", err)
	}
	if err := s.portal.Settle(ctx, t.Settle); err != nil {
		return err
	}
	for _, key := range []string{browser.KeyArrowDown, browser.KeyEnter} {
		if err := field.Press(ctx, key); err != nil {
			return fmt.Errorf("agenda: press %s: %w", key, err)
		}
	}
	s.logger.Info("patient selected", "patient", s.patient)
	return nil
}

func visible(ctx context.Context, el browser.Element) bool {
	if el == nil {
		return false
	}
	ok, err := el.Visible(ctx)
	return err == nil && ok
}
