package portal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// Intervention describes a step an operator must finish by hand.
type Intervention struct {
	Step string
	Err  error
}

// Intervener suspends a workflow until a human has dealt with a failed step.
type Intervener interface {
	AwaitIntervention(ctx context.Context, iv Intervention) error
}

// ErrOperatorUnavailable is returned when the operator input is closed, so
// no one can acknowledge the intervention.
var ErrOperatorUnavailable = errors.New("portal: operator input closed")

// PromptIntervener blocks until the operator presses Enter on In or ctx ends.
// In is read through a single buffered reader for the life of the value.
type PromptIntervener struct {
	In     io.Reader
	Out    io.Writer
	Logger *logging.Logger

	once  sync.Once
	lines chan error
}

// NewPromptIntervener prompts on the process terminal.
func NewPromptIntervener(logger *logging.Logger) *PromptIntervener {
	return &PromptIntervener{In: os.Stdin, Out: os.Stdout, Logger: logger}
}

func (p *PromptIntervener) AwaitIntervention(ctx context.Context, iv Intervention) error {
	logger := p.Logger
	if logger == nil {
		logger = logging.Default()
	}
	p.once.Do(p.startReader)
	logger.Warn("waiting for manual intervention", "step", iv.Step, "error", iv.Err)
	fmt.Fprintf(p.Out, "Intervenção manual necessária em %q: %v\nConclua a etapa no navegador e pressione Enter para continuar.\n", iv.Step, iv.Err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-p.lines:
		switch {
		case !ok || errors.Is(err, io.EOF):
			logger.Error("operator input closed, intervention cannot be acknowledged", "step", iv.Step)
			return ErrOperatorUnavailable
		case err != nil:
			return fmt.Errorf("portal: read operator input: %w", err)
		}
		logger.Info("manual intervention acknowledged", "step", iv.Step)
		return nil
	}
}

// startReader feeds one result per line to lines; the channel is closed
// after the first read error has been delivered.
func (p *PromptIntervener) startReader() {
	p.lines = make(chan error)
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	reader := bufio.NewReader(in)
	go func() {
		defer close(p.lines)
		for {
			_, err := reader.ReadString('\n')
			p.lines <- err
			if err != nil {
				return
			}
		}
	}()
}

// LogIntervener records interventions without blocking.
type LogIntervener struct {
	Logger *logging.Logger

	mu   sync.Mutex
	seen []Intervention
}

func (l *LogIntervener) AwaitIntervention(ctx context.Context, iv Intervention) error {
	logger := l.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("manual intervention required, continuing unattended", "step", iv.Step, "error", iv.Err)
	l.mu.Lock()
	l.seen = append(l.seen, iv)
	l.mu.Unlock()
	return nil
}

// Interventions returns what was recorded so far.
func (l *LogIntervener) Interventions() []Intervention {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Intervention(nil), l.seen...)
}
