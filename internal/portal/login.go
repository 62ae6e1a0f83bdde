package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/esus-pec-automation/internal/browser"
)

// Credential tags shown next to a unit heading.
const (
	UnitTag     = "Enfermeiro da estratégia de saúde da família"
	UnitDumpTag = "Enfermeiro"
)

var (
	cookieConsent  = browser.ByRole("button", "Aceitar todos")
	usernameInput  = browser.Query{CSS: "form input:not([type='password']):not([type='hidden']):not([type='checkbox'])"}
	passwordInput  = browser.Query{CSS: "form input[type='password']"}
	submitButton   = browser.Query{CSS: "button[type='submit']"}
	continueButton = browser.Query{Tag: "button", Text: browser.Contains("Continuar")}
	unitHeadings   = browser.Query{Tag: "h3"}
)

// Credentials identify the operator and the unit they work in.
type Credentials struct {
	URL      string
	Username string
	Password string
	Unit     string
}

// Login opens the portal, signs in, dismisses the active-session dialog when
// it shows up and selects the unit.
func (p *Portal) Login(ctx context.Context, c Credentials) error {
	p.logger.Info("opening portal", "url", c.URL)
	if err := p.page.Navigate(ctx, c.URL); err != nil {
		return err
	}

	if err := p.acceptCookies(ctx); err != nil {
		return err
	}

	p.logger.Info("filling credentials", "username", c.Username)
	if _, err := p.Fill(ctx, usernameInput, c.Username, p.timeouts.Login); err != nil {
		return err
	}
	if _, err := p.Fill(ctx, passwordInput, c.Password, p.timeouts.Field); err != nil {
		return err
	}
	if err := p.Click(ctx, submitButton); err != nil {
		return err
	}

	if err := p.dismissSessionDialog(ctx); err != nil {
		return err
	}

	if err := p.Settle(ctx, p.timeouts.Settle); err != nil {
		return err
	}
	if err := p.SelectUnit(ctx, c.Unit); err != nil {
		return err
	}
	p.logger.Info("login succeeded", "username", c.Username, "unit", c.Unit)
	return nil
}

func (p *Portal) acceptCookies(ctx context.Context) error {
	el, err := p.Find(ctx, cookieConsent, p.timeouts.Cookie)
	if errors.Is(err, browser.ErrTimeout) {
		p.logger.Info("no cookie consent banner")
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("accepting cookies")
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("portal: accept cookies: %w", err)
	}
	return nil
}

// dismissSessionDialog clicks "Continuar" when the portal reports an already
// active session. Frames are checked in order, then the top-level page. The
// dialog is optional and nothing here fails the login except cancellation.
func (p *Portal) dismissSessionDialog(ctx context.Context) error {
	p.logger.Info("checking for existing session dialog")
	if err := p.Settle(ctx, p.timeouts.Settle); err != nil {
		return err
	}

	frames, err := p.page.Frames(ctx)
	if err != nil {
		p.logger.Warn("listing frames failed", "error", err)
	}
	for _, f := range frames {
		p.logger.Info("checking frame", "index", f.Index(), "src", f.Src())
		clicked, err := p.clickContinue(ctx, f)
		if err != nil {
			return err
		}
		if clicked {
			p.logger.Info("clicked continue inside frame", "index", f.Index())
			return nil
		}
	}

	clicked, err := p.clickContinue(ctx, p.page)
	if err != nil {
		return err
	}
	if clicked {
		p.logger.Info("clicked continue on main page")
	} else {
		p.logger.Info("no continue button found")
	}
	return nil
}

func (p *Portal) clickContinue(ctx context.Context, scope browser.Scope) (bool, error) {
	btn, err := browser.Wait(ctx, scope, continueButton, p.timeouts.Dialog)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if err := btn.Click(ctx); err != nil {
		p.logger.Warn("continue button click failed", "error", err)
		return false, nil
	}
	return true, nil
}

// SelectUnit clicks the first unit heading matching name whose sibling block
// carries the nurse credential tag.
func (p *Portal) SelectUnit(ctx context.Context, name string) error {
	p.logger.Info("looking for unit", "unit", name, "tag", UnitTag)
	headings, err := p.page.Find(ctx, browser.Query{Tag: "h3", Text: browser.Contains(name)})
	if err != nil {
		return err
	}
	p.logger.Info("unit headings found", "unit", name, "count", len(headings))

	match, _, err := p.ResolveByTag(ctx, headings, []string{UnitTag}, SiblingSpanTag)
	if err != nil {
		return err
	}
	if match != nil {
		if err := match.Element.Click(ctx); err != nil {
			return fmt.Errorf("portal: select unit: %w", err)
		}
		p.logger.Info("unit selected", "unit", match.Text, "tag", match.Tag)
		return nil
	}

	dump, err := p.Dump(ctx, p.page, unitHeadings, UnitDumpTag, SiblingSpanTag)
	if err != nil {
		return err
	}
	p.logger.Error("no unit with matching credential tag", "unit", name, "tag", UnitTag)
	return notFound(ErrUnitNotFound, name, dump)
}
