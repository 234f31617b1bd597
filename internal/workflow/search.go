package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"xhspilot/internal/automation"
	"xhspilot/internal/capture"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
	"xhspilot/internal/selectors"
)

// Filters narrow a search. Empty fields are left as the site default.
type Filters struct {
	SortBy      string `json:"sort_by,omitempty"`
	NoteType    string `json:"note_type,omitempty"`
	PublishTime string `json:"publish_time,omitempty"`
	SearchScope string `json:"search_scope,omitempty"`
	Location    string `json:"location,omitempty"`
}

type filterGroup struct {
	name    string
	options []string
	value   func(Filters) string
}

// filterGroups is in the order the filter panel lists them.
var filterGroups = []filterGroup{
	{"sort_by", []string{"综合", "最新", "最多点赞", "最多评论", "最多收藏"}, func(f Filters) string { return f.SortBy }},
	{"note_type", []string{"不限", "视频", "图文"}, func(f Filters) string { return f.NoteType }},
	{"publish_time", []string{"不限", "一天内", "一周内", "半年内"}, func(f Filters) string { return f.PublishTime }},
	{"search_scope", []string{"不限", "已看过", "未看过", "已关注"}, func(f Filters) string { return f.SearchScope }},
	{"location", []string{"不限", "同城", "附近"}, func(f Filters) string { return f.Location }},
}

// FilterOptions returns the accepted values of a filter by name.
func FilterOptions(name string) []string {
	for _, g := range filterGroups {
		if g.name == name {
			return append([]string(nil), g.options...)
		}
	}
	return nil
}

type filterChoice struct {
	name, value string
}

// Validate rejects values the filter panel does not offer.
func (f Filters) Validate() error {
	_, err := f.choices()
	return err
}

func (f Filters) choices() ([]filterChoice, error) {
	var out []filterChoice
	for _, g := range filterGroups {
		v := strings.TrimSpace(g.value(f))
		if v == "" {
			continue
		}
		if !contains(g.options, v) {
			return nil, fault.New(fault.KindValidation, "validate",
				"invalid %s %q (want one of %s)", g.name, v, strings.Join(g.options, ", "))
		}
		out = append(out, filterChoice{name: g.name, value: v})
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SearchOptions configures a search run.
type SearchOptions struct {
	Options
	Keyword string
	Filters Filters
}

// SearchData is the data of a search result.
type SearchData struct {
	Keyword string         `json:"keyword"`
	Filters Filters        `json:"filters"`
	Source  string         `json:"source"` // capture or initial_state
	Count   int            `json:"count"`
	Feeds   []extract.Feed `json:"feeds"`
}

// Search loads the search page for a keyword, applies filters and returns
// the first page of notes.
func (r *Runner) Search(ctx context.Context, opts SearchOptions) *Result {
	keyword := strings.TrimSpace(opts.Keyword)
	var choices []filterChoice
	return r.execute(ctx, opts.Options, job{
		name:    "search",
		surface: login.SurfaceHome,
		prepare: func(ctx context.Context, rn *run) error {
			if keyword == "" {
				return fault.New(fault.KindValidation, "validate", "keyword is empty")
			}
			var err error
			choices, err = opts.Filters.choices()
			return err
		},
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			data := &SearchData{Keyword: keyword, Filters: opts.Filters, Feeds: []extract.Feed{}}
			eng, cat := rn.eng, rn.r.cat
			url := cat.SearchURL(keyword)

			trigger := func(ctx context.Context) error { return eng.Navigate(ctx, url) }
			if len(choices) > 0 {
				// Filters issue a fresh search request; the unfiltered one
				// from loading the page is not captured.
				if err := eng.Navigate(ctx, url); err != nil {
					return "", data, err
				}
				if _, err := rn.waitSearchState(ctx); err != nil {
					return "", data, err
				}
				trigger = func(ctx context.Context) error {
					return rn.step(ctx, "apply_filters", "", func(ctx context.Context) error {
						return rn.applyFilters(ctx, choices)
					})
				}
			}

			copts := capture.Options{
				Patterns: []string{cat.APIs.SearchNotes},
				Timeout:  rn.r.cfg.CaptureTimeout(),
			}
			if len(choices) > 0 {
				// Every filter click reissues the search; only the
				// response to the final one reflects all filters.
				copts.Settle = rn.r.cfg.CaptureSettle()
			}
			res, err := capture.Capture(ctx, rn.page(), copts, trigger)
			if err != nil {
				return "", data, err
			}
			if p, ok := res.Last(); ok {
				body, err := apiBody(ctx, "search", p)
				if fault.KindOf(err) == fault.KindAuthRequired {
					return "", data, err
				}
				if err != nil {
					rn.log.Warn("search response unreadable, falling back to page state: %v", err)
				} else if feeds, err := extract.SearchNotes(ctx, body); err == nil && len(feeds) > 0 {
					data.Source, data.Feeds, data.Count = "capture", feeds, len(feeds)
					return "", data, nil
				}
			}
			if res.TimedOut {
				rn.audit.CaptureTimeout(cat.APIs.SearchNotes, res.Waited)
			}

			raw, err := rn.waitSearchState(ctx)
			if err != nil {
				return "", data, err
			}
			feeds, err := extract.InitialFeeds(ctx, raw)
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "extract_feeds", err)
			}
			data.Source, data.Feeds, data.Count = "initial_state", feeds, len(feeds)
			if len(feeds) == 0 && res.TimedOut {
				return MarkerCaptureTimeout, data, nil
			}
			return "", data, nil
		},
	})
}

const searchStateJS = `() => {
	const s = window.__INITIAL_STATE__;
	const feeds = s && s.search && s.search.feeds;
	if (!feeds) return null;
	const v = feeds.value !== undefined ? feeds.value : feeds._value;
	return Array.isArray(v) ? v : null;
}`

// waitSearchState polls the page state until the search feeds exist.
func (rn *run) waitSearchState(ctx context.Context) (interface{}, error) {
	var feeds []interface{}
	ok, err := rn.eng.Poll(ctx, 25*time.Second, 600*time.Millisecond, func(ctx context.Context) (bool, error) {
		var v []interface{}
		if err := automation.EvalInto(ctx, rn.eng.Page(), &v, searchStateJS); err != nil {
			return false, err
		}
		if v == nil {
			return false, nil
		}
		feeds = v
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fault.Error{
			Kind:   fault.KindSelectorTimeout,
			Step:   "search_state",
			Target: "__INITIAL_STATE__.search.feeds",
			Err:    fmt.Errorf("search results did not load"),
		}
	}
	return feeds, nil
}

const filterPanelJS = `(selectors, options) => {
	const norm = (t) => (t || "").replace(/\s+/g, " ").trim();
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const r = el.getBoundingClientRect();
			if (r.width < 60 || r.height < 30) continue;
			const text = norm(el.innerText);
			if (!options.some((o) => text.includes(o))) continue;
			return { x: r.x, y: r.y, width: r.width, height: r.height };
		}
	}
	return null;
}`

const filterOptionJS = `(selectors, value) => {
	const norm = (t) => (t || "").replace(/\s+/g, " ").trim();
	let panel = null;
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0 && norm(el.innerText).includes(value)) { panel = el; break; }
		}
		if (panel) break;
	}
	if (!panel) return null;
	for (const el of panel.querySelectorAll("button, [role='button'], div, span, li, a")) {
		if (norm(el.textContent) !== value) continue;
		const r = el.getBoundingClientRect();
		if (r.width < 12 || r.width > 260 || r.height < 10 || r.height > 96) continue;
		let nested = false;
		for (const c of el.children) {
			if (norm(c.textContent) === value) { nested = true; break; }
		}
		if (nested) continue;
		return { x: r.x, y: r.y, width: r.width, height: r.height };
	}
	return null;
}`

// applyFilters opens the hover panel of the filter button and clicks each
// chosen option with real mouse events, keeping the pointer inside the
// panel so it stays open between clicks.
func (rn *run) applyFilters(ctx context.Context, choices []filterChoice) error {
	eng, cat := rn.eng, rn.r.cat
	page := eng.Page()
	pacer := eng.Pacer()
	button := cat.Step(selectors.SearchFilter)
	panelSel := cat.Step(selectors.FilterPanel).Candidates()

	var all []string
	for _, g := range filterGroups {
		all = append(all, g.options...)
	}

	btn, err := eng.FindRect(ctx, button.Candidates(), "", false)
	if err != nil {
		return fault.Wrap(fault.KindInternal, button.Name, err)
	}
	if btn == nil {
		return &fault.Error{Kind: fault.KindSelectorTimeout, Step: button.Name, Target: button.Selector, Err: fmt.Errorf("filter button not found")}
	}
	bx, by := btn.Center()

	findPanel := func() *automation.Rect {
		var r *automation.Rect
		if err := automation.EvalInto(ctx, page, &r, filterPanelJS, panelSel, all); err != nil {
			return nil
		}
		return r
	}
	enterPanel := func(p *automation.Rect) error {
		dy := p.Height - 10
		if dy > 28 {
			dy = 28
		}
		return page.MouseMove(ctx, p.X+p.Width-18, p.Y+dy)
	}

	var panel *automation.Rect
	for i := 0; i < 20 && panel == nil; i++ {
		x, y := bx, by
		if i%2 == 1 {
			x, y = bx-18, by+18
		}
		if err := page.MouseMove(ctx, x, y); err != nil {
			return fault.Wrap(fault.KindInternal, button.Name, err)
		}
		if err := pacer.Sleep(ctx, 200*time.Millisecond, 80*time.Millisecond); err != nil {
			return err
		}
		panel = findPanel()
	}
	if panel == nil {
		return &fault.Error{Kind: fault.KindSelectorTimeout, Step: selectors.FilterPanel, Target: strings.Join(panelSel, " | "), Err: fmt.Errorf("filter panel did not open")}
	}
	if err := enterPanel(panel); err != nil {
		return fault.Wrap(fault.KindInternal, selectors.FilterPanel, err)
	}

	for _, c := range choices {
		var opt *automation.Rect
		for try := 0; try < 8 && opt == nil; try++ {
			if err := automation.EvalInto(ctx, page, &opt, filterOptionJS, panelSel, c.value); err != nil {
				opt = nil
			}
			if opt != nil {
				break
			}
			// The panel may have collapsed; hover the button again.
			if err := page.MouseMove(ctx, bx, by); err != nil {
				return fault.Wrap(fault.KindInternal, c.name, err)
			}
			if err := pacer.Sleep(ctx, 250*time.Millisecond, 100*time.Millisecond); err != nil {
				return err
			}
			if p := findPanel(); p != nil {
				panel = p
				_ = enterPanel(panel)
			}
		}
		if opt == nil {
			return &fault.Error{Kind: fault.KindSelectorTimeout, Step: "filter_" + c.name, Target: c.value, Err: fmt.Errorf("filter option not found")}
		}
		if err := eng.ClickAt(ctx, *opt); err != nil {
			return fault.Wrap(fault.KindInternal, "filter_"+c.name, err)
		}
		logging.Automation("filter %s = %s", c.name, c.value)
		if err := pacer.Sleep(ctx, 350*time.Millisecond, 150*time.Millisecond); err != nil {
			return err
		}
		if err := enterPanel(panel); err != nil {
			return fault.Wrap(fault.KindInternal, "filter_"+c.name, err)
		}
	}
	return pacer.Sleep(ctx, 1200*time.Millisecond, 600*time.Millisecond)
}
