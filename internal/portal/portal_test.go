package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
	bt "github.com/wolfman30/esus-pec-automation/internal/browser/browsertest"
	"github.com/wolfman30/esus-pec-automation/internal/config"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

func init() {
	browser.PollInterval = time.Millisecond
}

func fastTimeouts() Timeouts {
	return Timeouts{
		Cookie:     5 * time.Millisecond,
		Login:      20 * time.Millisecond,
		Dialog:     5 * time.Millisecond,
		Field:      20 * time.Millisecond,
		Short:      5 * time.Millisecond,
		Action:     20 * time.Millisecond,
		Settle:     2 * time.Second,
		FormSettle: time.Second,
		Hover:      500 * time.Millisecond,
	}
}

func newTestPortal(page *bt.Page) *Portal {
	return New(page, WithLogger(logging.New("error")), WithTimeouts(fastTimeouts()))
}

func unitBlock(name, tag string) (*bt.Node, *bt.Node) {
	h := bt.H3(name)
	var tagBlock *bt.Node
	if tag == "" {
		tagBlock = bt.Div("")
	} else {
		tagBlock = bt.Div("", bt.Span(tag))
	}
	return bt.Div("", bt.Div("", h), tagBlock), h
}

type loginFixture struct {
	page     *bt.Page
	username *bt.Node
	password *bt.Node
	submit   *bt.Node
	cookie   *bt.Node
}

func newLoginFixture(units ...*bt.Node) *loginFixture {
	f := &loginFixture{
		username: (&bt.Node{Tag: "input"}).WithSelector(usernameInput.CSS),
		password: (&bt.Node{Tag: "input"}).WithSelector(passwordInput.CSS),
		submit:   bt.Button("Entrar").WithSelector(submitButton.CSS),
		cookie:   bt.Button("Aceitar todos"),
	}
	f.page = bt.NewPage(f.cookie, bt.El("form", "", f.username, f.password, f.submit))
	f.page.Append(units...)
	return f
}

var creds = Credentials{URL: "https://portal.example", Username: "enf.jane", Password: "secret", Unit: "Centro X"}

func TestLoginSelectsUnitWithCredentialTag(t *testing.T) {
	other, otherHeading := unitBlock("Centro X - Policlínica", "Médico clínico")
	target, targetHeading := unitBlock("Centro X - UBS", UnitTag)
	unrelated, _ := unitBlock("Centro Y", UnitTag)
	f := newLoginFixture(other, target, unrelated)

	err := newTestPortal(f.page).Login(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://portal.example"}, f.page.Navigated)
	assert.True(t, f.page.WasClicked(f.cookie))
	assert.Equal(t, "enf.jane", f.username.Value)
	assert.Equal(t, "secret", f.password.Value)
	assert.True(t, f.page.WasClicked(f.submit))
	assert.True(t, f.page.WasClicked(targetHeading))
	assert.False(t, f.page.WasClicked(otherHeading))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.page.Settles)
}

func TestLoginWithoutCookieBanner(t *testing.T) {
	target, heading := unitBlock("Centro X", UnitTag)
	f := newLoginFixture(target)
	f.cookie.Detach()

	require.NoError(t, newTestPortal(f.page).Login(context.Background(), creds))
	assert.True(t, f.page.WasClicked(heading))
}

func TestLoginFailsWhenUsernameFieldNeverAppears(t *testing.T) {
	target, _ := unitBlock("Centro X", UnitTag)
	f := newLoginFixture(target)
	f.username.Hide()

	err := newTestPortal(f.page).Login(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrTimeout))
	assert.Equal(t, KindTimeout, Kind(err))
	assert.False(t, f.page.WasClicked(f.submit))
}

func TestSessionDialogInsideFrame(t *testing.T) {
	target, _ := unitBlock("Centro X", UnitTag)
	f := newLoginFixture(target)
	mainContinue := bt.Button("Continuar")
	f.page.Append(mainContinue)
	f.page.AddFrame("about:blank", bt.Div("nothing here"))
	frameContinue := bt.Button("Continuar")
	f.page.AddFrame("/sessao", bt.Div("", frameContinue))

	require.NoError(t, newTestPortal(f.page).Login(context.Background(), creds))
	assert.True(t, f.page.WasClicked(frameContinue))
	assert.False(t, f.page.WasClicked(mainContinue), "main page is only checked when no frame has the button")
}

func TestSessionDialogOnMainPage(t *testing.T) {
	target, _ := unitBlock("Centro X", UnitTag)
	f := newLoginFixture(target)
	f.page.AddFrame("/empty")
	mainContinue := bt.Button("Continuar")
	f.page.Append(mainContinue)

	require.NoError(t, newTestPortal(f.page).Login(context.Background(), creds))
	assert.True(t, f.page.WasClicked(mainContinue))
}

func TestSessionDialogAbsentIsNotFatal(t *testing.T) {
	target, heading := unitBlock("Centro X", UnitTag)
	f := newLoginFixture(target)
	f.page.AddFrame("/a")
	f.page.AddFrame("/b")

	require.NoError(t, newTestPortal(f.page).Login(context.Background(), creds))
	assert.True(t, f.page.WasClicked(heading))
}

func TestSelectUnitChoosesQualifyingCandidateAtAnyPosition(t *testing.T) {
	const n = 4
	for pos := 0; pos < n; pos++ {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			var blocks []*bt.Node
			var want *bt.Node
			for i := 0; i < n; i++ {
				tag := "Técnico de enfermagem"
				if i == pos {
					tag = UnitTag
				}
				block, h := unitBlock(fmt.Sprintf("Centro X - sala %d", i), tag)
				if i == pos {
					want = h
				}
				blocks = append(blocks, block)
			}
			page := bt.NewPage(blocks...)

			require.NoError(t, newTestPortal(page).SelectUnit(context.Background(), "centro x"))
			require.Len(t, page.Clicks, 1)
			assert.Same(t, want, page.Clicks[0])
		})
	}
}

func TestSelectUnitPrefersFirstInDocumentOrder(t *testing.T) {
	first, h1 := unitBlock("Centro X - A", UnitTag)
	second, h2 := unitBlock("Centro X - B", UnitTag)
	page := bt.NewPage(first, second)

	require.NoError(t, newTestPortal(page).SelectUnit(context.Background(), "Centro X"))
	assert.True(t, page.WasClicked(h1))
	assert.False(t, page.WasClicked(h2))
}

func TestSelectUnitFailureListsEveryHeading(t *testing.T) {
	a, _ := unitBlock("Centro X - A", "Enfermeiro do trabalho")
	b, _ := unitBlock("Centro X - B", "")
	c, _ := unitBlock("Hospital Z", "Médico")
	page := bt.NewPage(a, b, c)

	err := newTestPortal(page).SelectUnit(context.Background(), "Centro X")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitNotFound)
	assert.Equal(t, KindUnitNotFound, Kind(err))
	assert.Empty(t, page.Clicks)

	var se *SearchError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Centro X", se.Target)
	assert.Equal(t, []Candidate{
		{Index: 0, Text: "Centro X - A", Tag: "Enfermeiro do trabalho"},
		{Index: 1, Text: "Centro X - B", Tag: NoTagFound},
		{Index: 2, Text: "Hospital Z", Tag: NoTagFound},
	}, Candidates(err))
}

func TestResolveByTagTriesEveryTagPerCandidate(t *testing.T) {
	fallbackOnly := bt.Option("Jane Doe", bt.Span("ENFERMEIRO"))
	primary := bt.Option("Jane Doe", bt.Span("ENFERMEIRO DA ESTRATÉGIA DE SAÚDE DA FAMÍLIA"))
	page := bt.NewPage(fallbackOnly, primary)
	p := newTestPortal(page)

	opts, err := page.Find(context.Background(), browser.Query{Role: "option"})
	require.NoError(t, err)

	match, seen, err := p.ResolveByTag(context.Background(), opts,
		[]string{"ENFERMEIRO DA ESTRATÉGIA DE SAÚDE DA FAMÍLIA", "ENFERMEIRO"}, SpanTag)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 0, match.Index)
	assert.Equal(t, "ENFERMEIRO", match.Tag)
	assert.Len(t, seen, 1)
}

func TestResolveByTagNoMatch(t *testing.T) {
	page := bt.NewPage(bt.Option("Jane Doe", bt.Span("MÉDICO")), bt.Option("Jane Doe Silva"))
	p := newTestPortal(page)
	opts, err := page.Find(context.Background(), browser.Query{Role: "option"})
	require.NoError(t, err)

	match, seen, err := p.ResolveByTag(context.Background(), opts, []string{"ENFERMEIRO"}, SpanTag)
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Equal(t, []Candidate{{Index: 0, Text: "Jane Doe MÉDICO"}, {Index: 1, Text: "Jane Doe Silva"}}, seen)
}

func TestOpenModuleClicksNavigationThenLink(t *testing.T) {
	nav := bt.El("nav", "", bt.Span("Acompanhamentos"), bt.Span("Agenda"), bt.Span("Busca"))
	link := bt.El("a", "Agenda")
	other := bt.El("a", "Lista de atendimentos")
	page := bt.NewPage(nav, link, other)

	require.NoError(t, newTestPortal(page).OpenModule(context.Background(), "Agenda"))
	require.Len(t, page.Clicks, 2)
	assert.Same(t, nav, page.Clicks[0])
	assert.Same(t, link, page.Clicks[1])
}

func TestToggleLabelClicksFirstSpan(t *testing.T) {
	label := bt.Label("Imprimir comprovante ao salvar")
	page := bt.NewPage(bt.Label("Outra opção"), label)

	require.NoError(t, newTestPortal(page).ToggleLabel(context.Background(), "Imprimir comprovante ao salvar"))
	require.Len(t, page.Clicks, 1)
	assert.Same(t, label.Children[0], page.Clicks[0])
}

func TestClickLabelTimesOut(t *testing.T) {
	page := bt.NewPage(bt.Label("Nome").Hide())
	err := newTestPortal(page).ClickLabel(context.Background(), "Nome", 5*time.Millisecond)
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&config.MissingError{Keys: []string{"UNIDADE"}}, KindMissingConfiguration},
		{&browser.TimeoutError{Timeout: time.Second}, KindTimeout},
		{notFound(ErrNoAvailableSlot, "Jane Doe", nil), KindNoAvailableSlot},
		{fmt.Errorf("stage: %w", notFound(ErrPatientNotFound, "John Smith", nil)), KindPatientNotFound},
		{context.Canceled, KindCanceled},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err))
	}
}

func TestLogIntervenerRecords(t *testing.T) {
	iv := &LogIntervener{Logger: logging.New("error")}
	require.NoError(t, iv.AwaitIntervention(context.Background(), Intervention{Step: "finalizar", Err: errors.New("hidden")}))
	got := iv.Interventions()
	require.Len(t, got, 1)
	assert.Equal(t, "finalizar", got[0].Step)
}

func TestPromptIntervenerWaitsForEnter(t *testing.T) {
	var out strings.Builder
	iv := &PromptIntervener{In: strings.NewReader("\n"), Out: &out, Logger: logging.New("error")}

	require.NoError(t, iv.AwaitIntervention(context.Background(), Intervention{Step: "adicionar", Err: errors.New("not visible")}))
	assert.Contains(t, out.String(), "adicionar")
	assert.Contains(t, out.String(), "Enter")
}

func TestPromptIntervenerKeepsBufferedInputAcrossPauses(t *testing.T) {
	var out strings.Builder
	iv := &PromptIntervener{In: strings.NewReader("\n\n"), Out: &out, Logger: logging.New("error")}

	require.NoError(t, iv.AwaitIntervention(context.Background(), Intervention{Step: "adicionar"}))
	require.NoError(t, iv.AwaitIntervention(context.Background(), Intervention{Step: "finalizar"}))
	assert.Contains(t, out.String(), "finalizar")
}

func TestPromptIntervenerFailsOnClosedInput(t *testing.T) {
	iv := &PromptIntervener{In: strings.NewReader(""), Out: &strings.Builder{}, Logger: logging.New("error")}

	err := iv.AwaitIntervention(context.Background(), Intervention{Step: "finalizar"})
	assert.ErrorIs(t, err, ErrOperatorUnavailable)

	err = iv.AwaitIntervention(context.Background(), Intervention{Step: "finalizar"})
	assert.ErrorIs(t, err, ErrOperatorUnavailable)
}

type blockingReader struct{ ch chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ch
	return 0, errors.New("closed")
}

func TestPromptIntervenerHonoursCancellation(t *testing.T) {
	r := blockingReader{ch: make(chan struct{})}
	defer close(r.ch)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	iv := &PromptIntervener{In: r, Out: &strings.Builder{}, Logger: logging.New("error")}
	err := iv.AwaitIntervention(ctx, Intervention{Step: "finalizar"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
