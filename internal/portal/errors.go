package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	"github.com/wolfman30/esus-pec-automation/internal/config"
)

// Element-not-found family. Each is returned wrapped in a *SearchError that
// carries the candidates examined before giving up.
var (
	ErrUnitNotFound         = errors.New("unit not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrNoAvailableSlot      = errors.New("no available slot")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAttendButtonNotFound = errors.New("attend button not found")

	// ErrRecoverableForm marks a form step that failed but can be completed by
	// an operator.
	ErrRecoverableForm = errors.New("form step needs manual intervention")
)

// NoTagFound is reported for candidates without a credential tag.
const NoTagFound = "Nenhum CBO encontrado"

// Candidate is one element considered during a search.
type Candidate struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Tag   string `json:"tag,omitempty"`
}

func (c Candidate) String() string {
	if c.Tag == "" {
		return fmt.Sprintf("%d: %s", c.Index, c.Text)
	}
	return fmt.Sprintf("%d: %s | CBO: %s", c.Index, c.Text, c.Tag)
}

// SearchError reports an exhaustive search that found nothing usable.
type SearchError struct {
	Err        error
	Target     string
	Candidates []Candidate
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("portal: %s: %q (%d candidates)", e.Err, e.Target, len(e.Candidates))
}

func (e *SearchError) Unwrap() error { return e.Err }

func notFound(kind error, target string, candidates []Candidate) error {
	return &SearchError{Err: kind, Target: target, Candidates: candidates}
}

// Error kinds reported by Kind.
const (
	KindMissingConfiguration = "missing_configuration"
	KindTimeout              = "timeout"
	KindUnitNotFound         = "unit_not_found"
	KindProfessionalNotFound = "professional_not_found"
	KindNoAvailableSlot      = "no_available_slot"
	KindAppointmentNotFound  = "appointment_not_found"
	KindPatientNotFound      = "patient_not_found"
	KindAttendButtonNotFound = "attend_button_not_found"
	KindRecoverableForm      = "recoverable_form"
	KindCanceled             = "canceled"
	KindUnknown              = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	{config.ErrMissingConfiguration, KindMissingConfiguration},
	{ErrUnitNotFound, KindUnitNotFound},
	{ErrProfessionalNotFound, KindProfessionalNotFound},
	{ErrNoAvailableSlot, KindNoAvailableSlot},
	{ErrAppointmentNotFound, KindAppointmentNotFound},
	{ErrPatientNotFound, KindPatientNotFound},
	{ErrAttendButtonNotFound, KindAttendButtonNotFound},
	{ErrRecoverableForm, KindRecoverableForm},
	{browser.ErrTimeout, KindTimeout},
	{context.DeadlineExceeded, KindTimeout},
	{context.Canceled, KindCanceled},
}

// Kind classifies err for logs and metrics. Nil yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Candidates returns the diagnostic candidates attached to err, if any.
func Candidates(err error) []Candidate {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Candidates
	}
	return nil
}
