package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"xhspilot/internal/automation"
)

// EvalHandler answers a script. Returning handled=false falls through to
// the next handler.
type EvalHandler func(js string, args []interface{}) (result interface{}, handled bool, err error)

// FakePage records every command and answers Eval through handlers.
type FakePage struct {
	mu sync.Mutex

	CurrentURL string
	Visible    map[string]bool // selector -> visible and present
	Present    map[string]bool // selector -> present in DOM (hidden allowed)

	Inputs map[string]string
	Files  map[string][]string
	Log    []string // ordered command log

	// OnNavigate may mutate page state when a URL is loaded.
	OnNavigate func(p *FakePage, url string)
	// OnHas runs before each visibility probe, e.g. to reveal elements late.
	OnHas func(p *FakePage, selector string)
	// Fail forces an error from the named op ("navigate", "input", "click", ...).
	Fail map[string]error

	handlers []EvalHandler

	net netState
}

var _ automation.Page = (*FakePage)(nil)

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		Visible: make(map[string]bool),
		Present: make(map[string]bool),
		Inputs:  make(map[string]string),
		Files:   make(map[string][]string),
		Fail:    make(map[string]error),
	}
}

// Show marks selectors as visible.
func (p *FakePage) Show(selectors ...string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.Visible[s] = true
		p.Present[s] = true
	}
	return p
}

// Hide removes selectors.
func (p *FakePage) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.Visible, s)
		delete(p.Present, s)
	}
}

// Handle registers an Eval handler; later handlers win.
func (p *FakePage) Handle(h EvalHandler) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append([]EvalHandler{h}, p.handlers...)
	return p
}

// HandleContains answers any script containing marker with result.
func (p *FakePage) HandleContains(marker string, result interface{}) *FakePage {
	return p.Handle(func(js string, _ []interface{}) (interface{}, bool, error) {
		if strings.Contains(js, marker) {
			return result, true, nil
		}
		return nil, false, nil
	})
}

// Entries returns a copy of the command log.
func (p *FakePage) Entries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Log...)
}

// Count returns how many log entries start with prefix.
func (p *FakePage) Count(prefix string) int {
	n := 0
	for _, e := range p.Entries() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (p *FakePage) record(op, detail string) error {
	p.mu.Lock()
	p.Log = append(p.Log, op+":"+detail)
	err, failed := p.Fail[op]
	p.mu.Unlock()
	if failed {
		return err
	}
	p.fireResponses(op, detail)
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := p.record("navigate", url); err != nil {
		return err
	}
	p.mu.Lock()
	p.CurrentURL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

// SetURL changes the current URL without logging.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
}

func (p *FakePage) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	hook := p.OnHas
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Fail["has"]; ok {
		return false, err
	}
	return p.Visible[selector], nil
}

func (p *FakePage) Eval(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	if err := p.record("eval", firstLine(js)); err != nil {
		return nil, err
	}
	p.mu.Lock()
	handlers := append([]EvalHandler(nil), p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		res, ok, err := h(js, args)
		if !ok {
			continue
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
	if strings.Contains(js, "!!document.querySelector(s)") && len(args) == 1 {
		sel, _ := args[0].(string)
		p.mu.Lock()
		ok := p.Present[sel] || p.Visible[sel]
		p.mu.Unlock()
		return json.Marshal(ok)
	}
	return []byte("null"), nil
}

func (p *FakePage) Input(ctx context.Context, selector, text string) error {
	if err := p.record("input", selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Inputs[selector] = text
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	return p.record("click", selector)
}

func (p *FakePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := p.record("files", selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Files[selector] = append([]string(nil), paths...)
	return nil
}

func (p *FakePage) InsertText(ctx context.Context, text string) error {
	return p.record("insert", text)
}

func (p *FakePage) PressKey(ctx context.Context, key automation.Key) error {
	return p.record("key", string(key))
}

func (p *FakePage) MouseMove(ctx context.Context, x, y float64) error {
	return p.record("move", fmt.Sprintf("%.0f,%.0f", x, y))
}

func (p *FakePage) MouseClick(ctx context.Context, x, y float64) error {
	return p.record("mouse", fmt.Sprintf("%.0f,%.0f", x, y))
}

func firstLine(js string) string {
	js = strings.TrimSpace(js)
	if i := strings.IndexByte(js, '\n'); i >= 0 {
		return js[:i]
	}
	return js
}
