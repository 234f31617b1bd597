package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"xhspilot/internal/config"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// Options configures an Engine.
type Options struct {
	Retry   RetryPolicy
	Timings config.Timings
	Jitter  float64
	Poll    time.Duration // WaitFor polling interval
	Clock   Clock
	Rand    RandFunc
}

// DefaultOptions mirrors the default configuration.
func DefaultOptions() Options {
	return Options{
		Retry:   DefaultRetryPolicy(),
		Timings: config.DefaultConfig().Timing.Durations(),
		Jitter:  0.25,
		Poll:    500 * time.Millisecond,
	}
}

// OptionsFromConfig derives engine options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry: RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.RetryBaseDelay(),
			MaxDelay:  cfg.RetryMaxDelay(),
			Jitter:    cfg.Timing.Jitter,
		},
		Timings: cfg.Timing.Durations(),
		Jitter:  cfg.Timing.Jitter,
		Poll:    500 * time.Millisecond,
	}
}

// Engine issues primitives against one Page. It is not safe for concurrent
// use; one workflow owns one engine.
type Engine struct {
	page    Page
	retry   *Retrier
	pacer   *Pacer
	clock   Clock
	timings config.Timings
	poll    time.Duration
}

// NewEngine wires an engine around page.
func NewEngine(page Page, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Rand == nil {
		opts.Rand = SystemRand
	}
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	return &Engine{
		page:    page,
		retry:   NewRetrier(opts.Retry, opts.Clock, opts.Rand),
		pacer:   NewPacer(opts.Jitter, opts.Clock, opts.Rand),
		clock:   opts.Clock,
		timings: opts.Timings,
		poll:    opts.Poll,
	}
}

// Page exposes the underlying page for workflow-specific scripts.
func (e *Engine) Page() Page { return e.page }

// Pacer exposes the engine's pacer.
func (e *Engine) Pacer() *Pacer { return e.pacer }

// Timings exposes the configured timings.
func (e *Engine) Timings() config.Timings { return e.timings }

// Navigate loads url and waits the jittered page-load interval.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	logging.Automation("navigate %s", url)
	err := e.retry.Do(ctx, "navigate", url, func(ctx context.Context) error {
		if err := e.page.Navigate(ctx, url); err != nil {
			return fault.Wrap(fault.KindInternal, "navigate", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.pacer.Sleep(ctx, e.timings.PageLoad, time.Second)
}

// Settle waits the jittered action interval.
func (e *Engine) Settle(ctx context.Context) error {
	return e.pacer.Sleep(ctx, e.timings.ActionInterval, 250*time.Millisecond)
}

// WaitFor polls the step's candidates until one is visible or timeout
// elapses, returning the selector that matched. A timeout here is final
// for the step; retry policy belongs to the caller.
func (e *Engine) WaitFor(ctx context.Context, step Step, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = step.Timeout
	}
	deadline := e.clock.Now().Add(timeout)
	for {
		sel, err := e.firstPresent(ctx, step)
		if err == nil && sel != "" {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !e.clock.Now().Before(deadline) {
			return "", &fault.Error{
				Kind:   fault.KindSelectorTimeout,
				Step:   step.Name,
				Target: strings.Join(step.Candidates(), " | "),
				Err:    fmt.Errorf("not visible within %v", timeout),
			}
		}
		if err := e.clock.Sleep(ctx, e.poll); err != nil {
			return "", err
		}
	}
}

// Poll evaluates cond every interval until it reports true or timeout
// elapses. Transient cond errors are ignored.
func (e *Engine) Poll(ctx context.Context, timeout, interval time.Duration, cond func(ctx context.Context) (bool, error)) (bool, error) {
	deadline := e.clock.Now().Add(timeout)
	for {
		if ok, err := cond(ctx); err == nil && ok {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !e.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := e.pacer.Sleep(ctx, interval, interval/3); err != nil {
			return false, err
		}
	}
}

func (e *Engine) firstPresent(ctx context.Context, step Step) (string, error) {
	var lastErr error
	for _, sel := range step.Candidates() {
		ok, err := e.page.Has(ctx, sel)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return sel, nil
		}
	}
	return "", lastErr
}

// resolve finds the first present candidate or fails with a retryable
// SelectorTimeout.
func (e *Engine) resolve(ctx context.Context, step Step) (string, error) {
	sel, err := e.firstPresent(ctx, step)
	if sel != "" {
		return sel, nil
	}
	if err == nil {
		err = fmt.Errorf("no candidate matched")
	}
	return "", &fault.Error{Kind: fault.KindSelectorTimeout, Step: step.Name, Err: err}
}

// TypeText fills the step's element with text.
func (e *Engine) TypeText(ctx context.Context, step Step, text string) error {
	if err := e.Settle(ctx); err != nil {
		return err
	}
	return e.retry.Do(ctx, step.Name, step.Selector, func(ctx context.Context) error {
		sel, err := e.resolve(ctx, step)
		if err != nil {
			return err
		}
		if err := e.page.Input(ctx, sel, text); err != nil {
			return fault.Wrap(fault.KindInternal, step.Name, err)
		}
		logging.AutomationDebug("%s: typed %d chars into %s", step.Name, utf8.RuneCountInString(text), sel)
		return nil
	})
}

// Click clicks the step's element. When step.Text is set the first
// candidate element whose trimmed text contains it is clicked with real
// mouse events instead.
func (e *Engine) Click(ctx context.Context, step Step) error {
	if err := e.Settle(ctx); err != nil {
		return err
	}
	return e.retry.Do(ctx, step.Name, step.Selector, func(ctx context.Context) error {
		if step.Text != "" {
			return e.clickByText(ctx, step)
		}
		sel, err := e.resolve(ctx, step)
		if err != nil {
			return err
		}
		if err := e.page.Click(ctx, sel); err != nil {
			return fault.Wrap(fault.KindInternal, step.Name, err)
		}
		return nil
	})
}

const rectByTextJS = `(selectors, text, exact) => {
	const norm = (t) => (t || "").replace(/\s+/g, " ").trim();
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (!(el instanceof HTMLElement) || el.offsetParent === null) continue;
			const t = norm(el.textContent);
			if (exact ? t !== text : !t.includes(text)) continue;
			const r = el.getBoundingClientRect();
			if (r.width === 0 || r.height === 0) continue;
			return { x: r.x, y: r.y, width: r.width, height: r.height };
		}
	}
	return null;
}`

// FindRect locates the first visible element under selectors whose text
// matches. It returns nil when nothing matches.
func (e *Engine) FindRect(ctx context.Context, selectors []string, text string, exact bool) (*Rect, error) {
	var rect *Rect
	if err := EvalInto(ctx, e.page, &rect, rectByTextJS, selectors, text, exact); err != nil {
		return nil, err
	}
	return rect, nil
}

func (e *Engine) clickByText(ctx context.Context, step Step) error {
	rect, err := e.locateText(ctx, step)
	if err != nil {
		return err
	}
	return e.ClickAt(ctx, *rect)
}

func (e *Engine) locateText(ctx context.Context, step Step) (*Rect, error) {
	rect, err := e.FindRect(ctx, step.Candidates(), step.Text, step.Exact)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, step.Name, err)
	}
	if rect == nil {
		return nil, &fault.Error{Kind: fault.KindSelectorTimeout, Step: step.Name, Err: fmt.Errorf("no element with text %q", step.Text)}
	}
	return rect, nil
}

// ClickOnce is Click for actions that must not repeat, such as submitting
// a post. Locating the element is retried; the click is dispatched once.
func (e *Engine) ClickOnce(ctx context.Context, step Step) error {
	if err := e.Settle(ctx); err != nil {
		return err
	}
	var (
		rect *Rect
		sel  string
	)
	err := e.retry.Do(ctx, step.Name, step.Selector, func(ctx context.Context) error {
		var err error
		if step.Text != "" {
			rect, err = e.locateText(ctx, step)
		} else {
			sel, err = e.resolve(ctx, step)
		}
		return err
	})
	if err != nil {
		return err
	}
	if rect != nil {
		err = e.ClickAt(ctx, *rect)
	} else {
		err = e.page.Click(ctx, sel)
	}
	if err != nil {
		return fault.WithTarget(fault.Wrap(fault.KindInternal, step.Name, err), step.Selector)
	}
	return nil
}

// ClickAt moves to the centre of rect and clicks with real mouse events.
func (e *Engine) ClickAt(ctx context.Context, rect Rect) error {
	x, y := rect.Center()
	if err := e.page.MouseMove(ctx, x, y); err != nil {
		return err
	}
	if err := e.pacer.Sleep(ctx, 50*time.Millisecond, 20*time.Millisecond); err != nil {
		return err
	}
	return e.page.MouseClick(ctx, x, y)
}

// UploadFiles hands paths to the step's file input.
func (e *Engine) UploadFiles(ctx context.Context, step Step, paths []string) error {
	if len(paths) == 0 {
		return fault.New(fault.KindValidation, step.Name, "no files to upload")
	}
	return e.retry.Do(ctx, step.Name, step.Selector, func(ctx context.Context) error {
		// File inputs are usually hidden, so presence is checked in the DOM
		// rather than through visibility.
		var sel string
		for _, cand := range step.Candidates() {
			ok, err := EvalBool(ctx, e.page, `(s) => !!document.querySelector(s)`, cand)
			if err == nil && ok {
				sel = cand
				break
			}
		}
		if sel == "" {
			return &fault.Error{Kind: fault.KindSelectorTimeout, Step: step.Name, Err: fmt.Errorf("file input not found")}
		}
		if err := e.page.SetFiles(ctx, sel, paths); err != nil {
			return fault.Wrap(fault.KindInternal, step.Name, err)
		}
		logging.Automation("%s: set %d file(s) on %s", step.Name, len(paths), sel)
		return nil
	})
}

const caretToEndJS = `(selectors, newline) => {
	let el = null;
	for (const s of selectors) { el = document.querySelector(s); if (el) break; }
	if (!el) return false;
	el.focus();
	const sel = window.getSelection();
	if (sel) {
		const range = document.createRange();
		range.selectNodeContents(el);
		range.collapse(false);
		sel.removeAllRanges();
		sel.addRange(range);
	}
	if (newline) document.execCommand("insertParagraph");
	return true;
}`

// InputTags enters each "#tag" into the editor in order: the caret moves to
// the end, "#" and the tag characters are typed, the autocomplete gets the
// settle interval, Enter confirms and a space separates the next tag.
func (e *Engine) InputTags(ctx context.Context, editor Step, tags []string) error {
	for i, tag := range tags {
		name := strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if name == "" {
			continue
		}
		step := fmt.Sprintf("%s_tag_%d", editor.Name, i+1)
		err := e.retry.Do(ctx, step, editor.Selector, func(ctx context.Context) error {
			ok, err := EvalBool(ctx, e.page, caretToEndJS, editor.Candidates(), i == 0)
			if err != nil {
				return fault.Wrap(fault.KindInternal, step, err)
			}
			if !ok {
				return &fault.Error{Kind: fault.KindSelectorTimeout, Step: step, Err: fmt.Errorf("editor not found")}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := e.typeTag(ctx, step, name); err != nil {
			return err
		}
		logging.Automation("tag %d/%d entered: #%s", i+1, len(tags), name)
	}
	return nil
}

func (e *Engine) typeTag(ctx context.Context, step, name string) error {
	if err := e.page.InsertText(ctx, "#"); err != nil {
		return fault.Wrap(fault.KindInternal, step, err)
	}
	if err := e.pacer.Sleep(ctx, 180*time.Millisecond, 60*time.Millisecond); err != nil {
		return err
	}
	for _, r := range name {
		if err := e.page.InsertText(ctx, string(r)); err != nil {
			return fault.Wrap(fault.KindInternal, step, err)
		}
		if err := e.pacer.Sleep(ctx, 60*time.Millisecond, 20*time.Millisecond); err != nil {
			return err
		}
	}
	if err := e.pacer.Exact(ctx, e.timings.TagSettle); err != nil {
		return err
	}
	if err := e.page.PressKey(ctx, KeyEnter); err != nil {
		return fault.Wrap(fault.KindInternal, step, err)
	}
	if err := e.pacer.Sleep(ctx, 260*time.Millisecond, 80*time.Millisecond); err != nil {
		return err
	}
	if err := e.page.InsertText(ctx, " "); err != nil {
		return fault.Wrap(fault.KindInternal, step, err)
	}
	return nil
}
