package workflow

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
)

// LoginData is the data of the login family of results.
type LoginData struct {
	Surface  login.Surface `json:"surface"`
	State    login.State   `json:"state"`
	LoginURL string        `json:"login_url,omitempty"`
	Cleared  []string      `json:"cleared_origins,omitempty"`
}

// CheckLogin probes one surface. An anonymous surface is reported as an
// AuthRequired failure with the not_logged_in marker.
func (r *Runner) CheckLogin(ctx context.Context, opts Options, surface login.Surface) *Result {
	return r.execute(ctx, opts, job{
		name: "check-login",
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			state, err := rn.prober().Check(ctx, surface)
			data := &LoginData{Surface: surface, State: state}
			if err != nil {
				return "", data, err
			}
			if err := login.Assert(state, surface); err != nil {
				return MarkerNotLoggedIn, data, err
			}
			return MarkerLoggedIn, data, nil
		},
	})
}

// LoginOptions configures the login commands.
type LoginOptions struct {
	Options
	// Wait blocks until the QR login completes instead of returning once
	// the login page is open.
	Wait bool
}

// Login opens the creator login page in a visible browser.
func (r *Runner) Login(ctx context.Context, opts LoginOptions) *Result {
	return r.execute(ctx, opts.Options, job{
		name:     "login",
		windowed: true,
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			return rn.openLogin(ctx, opts.Wait, &LoginData{Surface: login.SurfaceCreator})
		},
	})
}

// ReLogin drops the account's site data on both surfaces and opens the
// login page.
func (r *Runner) ReLogin(ctx context.Context, opts LoginOptions) *Result {
	return r.relogin(ctx, "re-login", opts)
}

// SwitchAccount is ReLogin for an explicitly named account.
func (r *Runner) SwitchAccount(ctx context.Context, opts LoginOptions) *Result {
	if opts.Account == "" {
		return r.reject("switch-account", fault.New(fault.KindValidation, "validate", "an account is required"))
	}
	return r.relogin(ctx, "switch-account", opts)
}

func (r *Runner) relogin(ctx context.Context, name string, opts LoginOptions) *Result {
	return r.execute(ctx, opts.Options, job{
		name:     name,
		windowed: true,
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			data := &LoginData{Surface: login.SurfaceCreator}
			cat := rn.r.cat
			// Storage can only be cleared for an origin the tab has loaded.
			if err := rn.eng.Navigate(ctx, cat.URLs.CreatorHome); err != nil {
				return "", data, err
			}
			origins := []string{origin(cat.URLs.CreatorHome), origin(cat.URLs.Home)}
			if err := rn.step(ctx, "clear_site_data", "", func(ctx context.Context) error {
				return rn.page().ClearSiteData(ctx, origins)
			}); err != nil {
				return "", data, err
			}
			data.Cleared = origins
			logging.Login("cleared cookies and storage for %v", origins)
			return rn.openLogin(ctx, opts.Wait, data)
		},
	})
}

func (rn *run) openLogin(ctx context.Context, wait bool, data *LoginData) (string, interface{}, error) {
	p := rn.prober()
	if wait {
		state, err := p.WaitForLogin(ctx, login.SurfaceCreator)
		data.State = state
		if err != nil {
			return MarkerNotLoggedIn, data, err
		}
		return MarkerLoggedIn, data, nil
	}
	u, err := p.OpenLoginPage(ctx)
	if err != nil {
		return "", data, err
	}
	data.LoginURL = u
	data.State = login.Anonymous
	if !strings.Contains(strings.ToLower(u), "login") {
		data.State = login.CreatorAuthenticated
	}
	return MarkerLoginPageOpened, data, nil
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// reject builds a failed result without touching the browser.
func (r *Runner) reject(name string, err error) *Result {
	return &Result{
		RunID:     uuid.NewString(),
		Workflow:  name,
		Status:    StatusFailure,
		ErrorKind: fault.KindOf(err),
		Error:     err.Error(),
		Step:      fault.StepOf(err),
		err:       err,
	}
}
