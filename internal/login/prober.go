package login

import (
	"context"
	"strings"
	"time"

	"xhspilot/internal/automation"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/selectors"
)

// Options tunes probing.
type Options struct {
	// HomeKeyword is the prompt text the home page shows to visitors.
	HomeKeyword string
	HomeWait    time.Duration
	HomePoll    time.Duration
	// ManualWait bounds how long a QR login may take.
	ManualWait time.Duration
	ManualPoll time.Duration
}

// DefaultOptions mirrors the default configuration.
func DefaultOptions() Options {
	return Options{
		HomeKeyword: "登录后推荐更懂你的笔记",
		HomeWait:    8 * time.Second,
		HomePoll:    700 * time.Millisecond,
		ManualWait:  3 * time.Minute,
		ManualPoll:  3 * time.Second,
	}
}

// Prober inspects one page for login markers.
type Prober struct {
	eng  *automation.Engine
	cat  *selectors.Catalog
	opts Options
}

// NewProber returns a prober driving eng.
func NewProber(eng *automation.Engine, cat *selectors.Catalog, opts Options) *Prober {
	if opts.HomeKeyword == "" {
		opts.HomeKeyword = cat.Keywords.HomeLoginPrompt
	}
	return &Prober{eng: eng, cat: cat, opts: opts}
}

const homePromptJS = `(kw) => {
	const hosts = "[class*='login'], [class*='modal'], [class*='popup'], [class*='dialog'], [class*='mask']";
	for (const el of document.querySelectorAll(hosts)) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		if ((el.innerText || "").includes(kw)) return true;
	}
	return ((document.body && document.body.innerText) || "").includes(kw);
}`

// Check navigates to the surface and reports its login state.
func (p *Prober) Check(ctx context.Context, surface Surface) (State, error) {
	entry := p.cat.URLs.CreatorHome
	if surface == SurfaceHome {
		entry = p.cat.URLs.Home
	}
	if err := p.eng.Navigate(ctx, entry); err != nil {
		return Unknown, err
	}
	state, err := p.observe(ctx, surface, true)
	if err != nil {
		return Unknown, err
	}
	logging.Login("%s surface: %s", surface, state)
	return state, nil
}

// observe reads the current page without navigating. waitPrompt lets the
// home page's login prompt appear before concluding it is absent.
func (p *Prober) observe(ctx context.Context, surface Surface, waitPrompt bool) (State, error) {
	url, err := p.eng.Page().URL(ctx)
	if err != nil {
		return Unknown, fault.Wrap(fault.KindConnection, "check_login", err)
	}
	if strings.Contains(strings.ToLower(url), "login") {
		return Anonymous, nil
	}
	if surface == SurfaceCreator {
		return CreatorAuthenticated, nil
	}

	prompt := func(ctx context.Context) (bool, error) {
		return automation.EvalBool(ctx, p.eng.Page(), homePromptJS, p.opts.HomeKeyword)
	}
	if !waitPrompt {
		shown, err := prompt(ctx)
		if err != nil {
			return Unknown, fault.Wrap(fault.KindInternal, "check_login", err)
		}
		if shown {
			return Anonymous, nil
		}
		return HomeAuthenticated, nil
	}
	shown, err := p.eng.Poll(ctx, p.opts.HomeWait, p.opts.HomePoll, prompt)
	if err != nil {
		return Unknown, err
	}
	if shown {
		return Anonymous, nil
	}
	return HomeAuthenticated, nil
}

// OpenLoginPage loads the creator login page. Visiting the creator root
// first lets an already valid session skip the login form.
func (p *Prober) OpenLoginPage(ctx context.Context) (string, error) {
	if err := p.eng.Navigate(ctx, p.cat.URLs.CreatorHome); err != nil {
		return "", err
	}
	url, err := p.eng.Page().URL(ctx)
	if err != nil {
		return "", fault.Wrap(fault.KindConnection, "open_login", err)
	}
	if !strings.Contains(strings.ToLower(url), "login") {
		if err := p.eng.Navigate(ctx, p.cat.URLs.CreatorLogin); err != nil {
			return "", err
		}
		if url, err = p.eng.Page().URL(ctx); err != nil {
			return "", fault.Wrap(fault.KindConnection, "open_login", err)
		}
	}
	if _, err := p.eng.WaitFor(ctx, p.cat.Step(selectors.LoginQRCode), 0); err != nil {
		logging.LoginWarn("login QR code not found on %s: %v", url, err)
	}
	logging.Login("login page open at %s; scan the QR code in the browser window", url)
	return url, nil
}

// WaitForLogin opens the login entry for surface and polls until the user
// finishes a manual login or ManualWait elapses.
func (p *Prober) WaitForLogin(ctx context.Context, surface Surface) (State, error) {
	entry := p.cat.URLs.Home
	if surface == SurfaceCreator {
		if _, err := p.OpenLoginPage(ctx); err != nil {
			return Unknown, err
		}
	} else if err := p.eng.Navigate(ctx, entry); err != nil {
		return Unknown, err
	}

	var last State = Unknown
	ok, err := p.eng.Poll(ctx, p.opts.ManualWait, p.opts.ManualPoll, func(ctx context.Context) (bool, error) {
		st, err := p.observe(ctx, surface, false)
		if err != nil {
			return false, err
		}
		last = st
		return st == surface.Authenticated(), nil
	})
	if err != nil {
		return Unknown, err
	}
	if !ok {
		return last, Assert(last, surface)
	}
	logging.Login("manual login completed on %s surface", surface)
	return surface.Authenticated(), nil
}
