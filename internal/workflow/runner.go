// Package workflow runs the fixed automation pipelines: publish, search,
// feed detail, comment, notifications, content data and login management.
// Every run resolves an account, holds the port lease, ensures the browser,
// attaches one session, gates on login, and always releases the session.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"xhspilot/internal/account"
	"xhspilot/internal/automation"
	"xhspilot/internal/browser"
	"xhspilot/internal/cdp"
	"xhspilot/internal/config"
	"xhspilot/internal/fault"
	"xhspilot/internal/journal"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
	"xhspilot/internal/selectors"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Markers qualify a result beyond its status.
const (
	MarkerPendingConfirm = "pending_manual_confirm"
	MarkerPublished      = "published"
	MarkerCaptureTimeout = "capture_timeout"
	// MarkerCommentsUnreadable flags a note returned without its comments
	// because the comment response could not be read.
	MarkerCommentsUnreadable = "comments_unreadable"
	MarkerLoginPageOpened    = "login_page_opened"
	MarkerLoggedIn           = "logged_in"
	MarkerNotLoggedIn        = "not_logged_in"
)

// Result is what every workflow returns.
type Result struct {
	RunID     string      `json:"run_id"`
	Workflow  string      `json:"workflow"`
	Account   string      `json:"account,omitempty"`
	Status    Status      `json:"status"`
	Marker    string      `json:"marker,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	ErrorKind fault.Kind  `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Step      string      `json:"step,omitempty"`

	err error
}

// Err returns the failure, or nil on success.
func (r *Result) Err() error { return r.err }

// Rejected is the result of a run refused before it started, such as a
// request that fails to parse.
func Rejected(name string, err error) *Result {
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

// Browsers is the lifecycle surface the runner needs.
type Browsers interface {
	EnsureRunning(ctx context.Context, spec browser.Spec) (*browser.Instance, error)
	Restart(ctx context.Context, spec browser.Spec) (*browser.Instance, error)
}

// Deps are the runner's collaborators.
type Deps struct {
	Config   *config.Config
	Catalog  *selectors.Catalog
	Accounts *account.Store
	Browsers Browsers
	Locks    *browser.PortLocks
	Sessions *cdp.Manager
	// Journal is optional; without it duplicate publishes are not detected.
	Journal *journal.Journal
	// Engine overrides the engine options derived from Config.
	Engine *automation.Options
}

// Runner executes workflows.
type Runner struct {
	cfg      *config.Config
	cat      *selectors.Catalog
	accounts *account.Store
	browsers Browsers
	locks    *browser.PortLocks
	sessions *cdp.Manager
	journal  *journal.Journal
	engOpts  automation.Options
}

// New builds a runner. Missing collaborators get production defaults.
func New(d Deps) *Runner {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Catalog == nil {
		d.Catalog = selectors.Default()
	}
	if d.Locks == nil {
		d.Locks = browser.NewPortLocks(d.Config.RunDir())
	}
	if d.Browsers == nil {
		d.Browsers = browser.NewManager(d.Config.RunDir(), nil, nil)
	}
	if d.Sessions == nil {
		d.Sessions = cdp.NewManager(nil)
	}
	opts := automation.OptionsFromConfig(d.Config)
	if d.Engine != nil {
		opts = *d.Engine
	}
	return &Runner{
		cfg:      d.Config,
		cat:      d.Catalog,
		accounts: d.Accounts,
		browsers: d.Browsers,
		locks:    d.Locks,
		sessions: d.Sessions,
		journal:  d.Journal,
		engOpts:  opts,
	}
}

// Options are shared by every workflow invocation.
type Options struct {
	Account string
	// Headless overrides cdp.headless when set.
	Headless *bool
	// NoEscalate fails with AuthRequired instead of escalating to a
	// windowed manual login.
	NoEscalate bool
}

// job describes one pipeline for execute.
type job struct {
	name string
	// surface, when set, is asserted after attach.
	surface login.Surface
	// windowed forces a visible browser regardless of options.
	windowed bool
	// attach adjusts the default attach options.
	attach func(*cdp.AttachOptions)
	// prepare runs after account resolution and before any browser work.
	prepare func(ctx context.Context, rn *run) error
	body    func(ctx context.Context, rn *run) (marker string, data interface{}, err error)
	// failed runs when anything after a successful prepare fails.
	failed func(rn *run, err error)
}

// run is the state of one workflow execution.
type run struct {
	id       string
	r        *Runner
	acct     *account.Account
	spec     browser.Spec
	attach   cdp.AttachOptions
	sess     *cdp.Session
	eng      *automation.Engine
	audit    *logging.AuditLogger
	log      *logging.RequestLogger
	escalate bool
}

func (rn *run) page() cdp.Page { return rn.sess.Page }

// execute drives the shared pipeline around j.body.
func (r *Runner) execute(ctx context.Context, opts Options, j job) *Result {
	rn := &run{id: uuid.NewString(), r: r}
	res := &Result{RunID: rn.id, Workflow: j.name}
	rn.log = logging.WithRequestID(logging.CategoryWorkflow, rn.id)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.WorkflowDeadline())
	defer cancel()

	err := r.runJob(ctx, opts, j, rn, res)
	if err != nil {
		if rn.acct != nil {
			err = fault.WithAccount(err, rn.acct.ID)
		}
		res.Status = StatusFailure
		res.ErrorKind = fault.KindOf(err)
		res.Error = err.Error()
		res.Step = fault.StepOf(err)
		res.err = err
		rn.log.Error("%s failed: %v", j.name, err)
	} else {
		res.Status = StatusSuccess
		rn.log.Info("%s succeeded (marker=%q) in %v", j.name, res.Marker, time.Since(start).Round(time.Millisecond))
	}
	if rn.audit != nil {
		rn.audit.RunEnd(string(res.Status), time.Since(start), err)
	}
	return res
}

func (r *Runner) runJob(ctx context.Context, opts Options, j job, rn *run, res *Result) (err error) {
	if r.accounts == nil {
		return fault.New(fault.KindInternal, "account", "no account store configured")
	}
	acct, err := r.accounts.Resolve(opts.Account)
	if err != nil {
		return err
	}
	rn.acct = acct
	res.Account = acct.ID
	rn.log = rn.log.WithField("account", acct.ID)
	rn.audit = logging.Audit(rn.id, j.name, acct.ID)
	rn.audit.RunStart()
	rn.log.Info("%s started for account %s", j.name, acct.DisplayName())

	headless := r.cfg.CDP.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	if j.windowed {
		headless = false
	}
	rn.escalate = r.cfg.Login.Escalate && !opts.NoEscalate
	rn.spec = browser.Spec{
		Host:        r.cfg.CDP.Host,
		Port:        r.cfg.CDP.Port,
		ProfilePath: acct.ProfilePath,
		Headless:    headless,
		ChromeBin:   r.cfg.CDP.ChromeBin,
		ExtraFlags:  r.cfg.CDP.ExtraFlags,
	}
	rn.attach = cdp.AttachOptions{
		Host:          r.cfg.CDP.Host,
		Port:          r.cfg.CDP.Port,
		ReuseExisting: r.cfg.CDP.ReuseExistingTab,
		Prefixes:      r.cat.URLs.AppPrefixes,
		EntryURL:      "about:blank",
		Timeout:       r.cfg.ConnectTimeout(),
	}
	if j.attach != nil {
		j.attach(&rn.attach)
	}

	if j.prepare != nil {
		if err := j.prepare(ctx, rn); err != nil {
			return err
		}
		defer func() {
			if err != nil && j.failed != nil {
				j.failed(rn, err)
			}
		}()
	}

	lease, err := r.locks.Acquire(rn.spec.Port)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := rn.start(ctx, false); err != nil {
		return err
	}
	defer rn.release()

	if j.surface != "" {
		if err := rn.gate(ctx, j.surface); err != nil {
			return err
		}
	}

	marker, data, err := j.body(ctx, rn)
	res.Marker, res.Data = marker, data
	return err
}

// start ensures the browser and attaches a session. restart forces a
// relaunch with the current spec.
func (rn *run) start(ctx context.Context, restart bool) error {
	var (
		inst *browser.Instance
		err  error
	)
	if restart {
		inst, err = rn.r.browsers.Restart(ctx, rn.spec)
	} else {
		inst, err = rn.r.browsers.EnsureRunning(ctx, rn.spec)
	}
	if err != nil {
		return err
	}
	if inst.Remote {
		// A remote browser cannot be restarted windowed.
		rn.escalate = false
	}
	if inst.Launched {
		ev := logging.AuditBrowserLaunch
		if restart {
			ev = logging.AuditBrowserRestart
		}
		rn.audit.Browser(ev, inst.PID, inst.Headless)
	}
	sess, err := rn.r.sessions.Attach(ctx, rn.attach)
	if err != nil {
		return err
	}
	rn.sess = sess
	rn.eng = automation.NewEngine(sess.Page, rn.r.engOpts)
	return nil
}

// release detaches the current session, leaving the browser running.
func (rn *run) release() {
	if rn.sess == nil {
		return
	}
	if err := rn.sess.Release(); err != nil {
		rn.log.Warn("release session %s: %v", rn.sess.ID, err)
	}
	rn.sess = nil
}

func (rn *run) prober() *login.Prober {
	cfg := rn.r.cfg
	return login.NewProber(rn.eng, rn.r.cat, login.Options{
		HomeKeyword: cfg.Login.HomePromptKeyword,
		HomeWait:    cfg.HomeLoginWait(),
		HomePoll:    700 * time.Millisecond,
		ManualWait:  cfg.ManualLoginWait(),
		ManualPoll:  cfg.LoginPoll(),
	})
}

// gate asserts the login state of surface, escalating an anonymous
// headless run to a windowed manual login when allowed.
func (rn *run) gate(ctx context.Context, surface login.Surface) error {
	state, err := rn.prober().Check(ctx, surface)
	if err != nil {
		return err
	}
	action := login.Decide(state, surface, rn.spec.Headless, rn.escalate)
	rn.log.Info("login gate on %s: %s -> %s", surface, state, action)
	switch action {
	case login.Proceed:
		return nil
	case login.Escalate:
		return rn.escalateLogin(ctx, surface)
	default:
		return login.Assert(state, surface)
	}
}

func (rn *run) escalateLogin(ctx context.Context, surface login.Surface) error {
	logging.LoginWarn("%s surface is logged out; restarting windowed for a manual login", surface)
	rn.release()
	rn.spec.Headless = false
	if err := rn.start(ctx, true); err != nil {
		return err
	}
	rn.audit.LoginEscalate(rn.r.cat.URLs.CreatorLogin)
	state, err := rn.prober().WaitForLogin(ctx, surface)
	if err != nil {
		return err
	}
	return login.Assert(state, surface)
}

// step audits one named stage of a body.
func (rn *run) step(ctx context.Context, name, target string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	rn.audit.Step(name, target, time.Since(start), err)
	if err != nil {
		return fault.Wrap(fault.KindInternal, name, err)
	}
	return nil
}
