package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"xhspilot/internal/automation"
	"xhspilot/internal/capture"
)

// RodDialer connects with rod over a websocket it can close on its own,
// so releasing a session never sends Browser.close.
type RodDialer struct{}

type recordingDialer struct {
	net.Dialer
	mu    sync.Mutex
	conns []net.Conn
}

func (d *recordingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	c, err := d.Dialer.DialContext(ctx, network, addr)
	if err == nil {
		d.mu.Lock()
		d.conns = append(d.conns, c)
		d.mu.Unlock()
	}
	return c, err
}

func (d *recordingDialer) closeAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for _, c := range d.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.conns = nil
	return first
}

// Dial resolves the browser websocket from host:port and connects.
func (RodDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	wsURL, err := launcher.ResolveURL(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve debug endpoint: %w", err)
	}
	rd := &recordingDialer{}
	ws := &cdp.WebSocket{Dialer: rd}
	if err := ws.Connect(ctx, wsURL, nil); err != nil {
		return nil, fmt.Errorf("connect %s: %w", wsURL, err)
	}
	b := rod.New().Client(cdp.New().Start(ws))
	if err := b.Connect(); err != nil {
		rd.closeAll()
		return nil, fmt.Errorf("attach browser: %w", err)
	}
	return &rodConn{browser: b, dialer: rd}, nil
}

type rodConn struct {
	browser *rod.Browser
	dialer  *recordingDialer
}

func (c *rodConn) Targets(ctx context.Context) ([]Target, error) {
	res, err := proto.TargetGetTargets{}.Call(c.browser.Context(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		out = append(out, Target{ID: string(info.TargetID), Type: string(info.Type), URL: info.URL})
	}
	return out, nil
}

func (c *rodConn) Open(ctx context.Context, targetID string) (Page, error) {
	p, err := c.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, err
	}
	_, _ = p.Activate()
	return NewRodPage(p.Context(context.Background())), nil
}

func (c *rodConn) Create(ctx context.Context, url string) (Page, string, error) {
	p, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, "", err
	}
	return NewRodPage(p.Context(context.Background())), string(p.TargetID), nil
}

func (c *rodConn) Close() error {
	return c.dialer.closeAll()
}

// RodPage adapts a rod page to the automation and capture interfaces.
type RodPage struct {
	page *rod.Page
}

var _ Page = (*RodPage)(nil)

// NewRodPage wraps an existing rod page.
func NewRodPage(p *rod.Page) *RodPage { return &RodPage{page: p} }

func (r *RodPage) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (r *RodPage) URL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

const visibleJS = `(s) => {
	for (const el of document.querySelectorAll(s)) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const st = window.getComputedStyle(el);
		if (st.visibility === "hidden" || st.display === "none") continue;
		return true;
	}
	return false;
}`

func (r *RodPage) Has(ctx context.Context, selector string) (bool, error) {
	return automation.EvalBool(ctx, r, visibleJS, selector)
}

func (r *RodPage) Eval(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	res, err := r.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

func (r *RodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	return r.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
}

func (r *RodPage) Input(ctx context.Context, selector, text string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		// Contenteditable hosts reject select-all on some builds; focus is enough.
		if err := el.Focus(); err != nil {
			return err
		}
	}
	return el.Input(text)
}

func (r *RodPage) Click(ctx context.Context, selector string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (r *RodPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.SetFiles(paths)
}

func (r *RodPage) InsertText(ctx context.Context, text string) error {
	return r.page.Context(ctx).InsertText(text)
}

func (r *RodPage) PressKey(ctx context.Context, key automation.Key) error {
	var k input.Key
	switch key {
	case automation.KeyEnter:
		k = input.Enter
	case automation.KeyEscape:
		k = input.Escape
	default:
		return fmt.Errorf("unsupported key %q", key)
	}
	return r.page.Context(ctx).Keyboard.Type(k)
}

func (r *RodPage) MouseMove(ctx context.Context, x, y float64) error {
	return r.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (r *RodPage) MouseClick(ctx context.Context, x, y float64) error {
	m := r.page.Context(ctx).Mouse
	if err := m.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return m.Click(proto.InputMouseButtonLeft, 1)
}

// Subscribe enables the network domain and streams request lifecycle
// events until cancel is called.
func (r *RodPage) Subscribe(ctx context.Context) (<-chan capture.Event, func(), error) {
	if err := (proto.NetworkEnable{}).Call(r.page.Context(ctx)); err != nil {
		return nil, nil, err
	}
	sctx, stop := context.WithCancel(ctx)
	ch := make(chan capture.Event, 256)
	send := func(ev capture.Event) {
		select {
		case ch <- ev:
		case <-sctx.Done():
		}
	}
	wait := r.page.Context(sctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			send(capture.Event{Kind: capture.EventRequest, RequestID: string(e.RequestID), URL: e.Request.URL})
		},
		func(e *proto.NetworkResponseReceived) {
			send(capture.Event{Kind: capture.EventResponse, RequestID: string(e.RequestID), URL: e.Response.URL, Status: e.Response.Status})
		},
		func(e *proto.NetworkLoadingFinished) {
			send(capture.Event{Kind: capture.EventFinished, RequestID: string(e.RequestID)})
		},
		func(e *proto.NetworkLoadingFailed) {
			send(capture.Event{Kind: capture.EventFailed, RequestID: string(e.RequestID)})
		},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			<-done
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Body fetches a finished response body.
func (r *RodPage) Body(ctx context.Context, requestID string) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: proto.NetworkRequestID(requestID)}.Call(r.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

// ClearSiteData clears all cookies, then local and session storage per
// origin.
func (r *RodPage) ClearSiteData(ctx context.Context, origins []string) error {
	p := r.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	for _, o := range origins {
		err := proto.StorageClearDataForOrigin{Origin: o, StorageTypes: "cookies,local_storage,session_storage"}.Call(p)
		if err != nil {
			return fmt.Errorf("clear storage for %s: %w", o, err)
		}
	}
	return nil
}
