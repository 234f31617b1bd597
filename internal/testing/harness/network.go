package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"xhspilot/internal/capture"
)

// FakeResponse is a canned network response.
type FakeResponse struct {
	URL    string
	Status int
	Body   string
}

type responseRule struct {
	op, prefix string
	resp       FakeResponse
	each       func(n int) FakeResponse
	once       bool
	fired      int
}

type netState struct {
	mu     sync.Mutex
	subs   map[int]chan capture.Event
	nextID int
	seq    int
	bodies map[string][]byte
	rules  []*responseRule
}

// RespondOn emits resp to subscribers whenever a logged op's detail starts
// with prefix, e.g. RespondOn("navigate", searchURL, ...) or
// RespondOn("mouse", "", ...).
func (p *FakePage) RespondOn(op, prefix string, resp FakeResponse) *FakePage {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.rules = append(p.net.rules, &responseRule{op: op, prefix: prefix, resp: resp})
	return p
}

// RespondOnce is RespondOn that fires a single time.
func (p *FakePage) RespondOnce(op, prefix string, resp FakeResponse) *FakePage {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.rules = append(p.net.rules, &responseRule{op: op, prefix: prefix, resp: resp, once: true})
	return p
}

// RespondEach is RespondOn with a response built per firing; n counts
// from 1.
func (p *FakePage) RespondEach(op, prefix string, each func(n int) FakeResponse) *FakePage {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.rules = append(p.net.rules, &responseRule{op: op, prefix: prefix, each: each})
	return p
}

// Emit sends a response to current subscribers now.
func (p *FakePage) Emit(resp FakeResponse) {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.emitLocked(resp)
}

func (p *FakePage) fireResponses(op, detail string) {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	for _, r := range p.net.rules {
		if r.op != op || !strings.HasPrefix(detail, r.prefix) || (r.once && r.fired > 0) {
			continue
		}
		r.fired++
		if r.each != nil {
			p.emitLocked(r.each(r.fired))
			continue
		}
		p.emitLocked(r.resp)
	}
}

func (p *FakePage) emitLocked(resp FakeResponse) {
	p.net.seq++
	id := fmt.Sprintf("req-%d", p.net.seq)
	if p.net.bodies == nil {
		p.net.bodies = make(map[string][]byte)
	}
	p.net.bodies[id] = []byte(resp.Body)
	status := resp.Status
	if status == 0 {
		status = 200
	}
	for _, ch := range p.net.subs {
		ch <- capture.Event{Kind: capture.EventRequest, RequestID: id, URL: resp.URL}
		ch <- capture.Event{Kind: capture.EventResponse, RequestID: id, URL: resp.URL, Status: status}
		ch <- capture.Event{Kind: capture.EventFinished, RequestID: id}
	}
}

// Subscribe implements capture.Source.
func (p *FakePage) Subscribe(ctx context.Context) (<-chan capture.Event, func(), error) {
	if err := p.record("subscribe", ""); err != nil {
		return nil, nil, err
	}
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	if p.net.subs == nil {
		p.net.subs = make(map[int]chan capture.Event)
	}
	p.net.nextID++
	id := p.net.nextID
	ch := make(chan capture.Event, 96)
	p.net.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.net.mu.Lock()
			defer p.net.mu.Unlock()
			delete(p.net.subs, id)
			close(ch)
		})
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (p *FakePage) Subscribers() int {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	return len(p.net.subs)
}

// Body implements capture.Source.
func (p *FakePage) Body(ctx context.Context, requestID string) ([]byte, error) {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	b, ok := p.net.bodies[requestID]
	if !ok {
		return nil, errors.New("no resource with given identifier found")
	}
	return b, nil
}

// ClearSiteData records the origins cleared.
func (p *FakePage) ClearSiteData(ctx context.Context, origins []string) error {
	return p.record("clear", strings.Join(origins, ","))
}
