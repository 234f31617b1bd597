// Package capture observes network responses whose URL matches a known
// API path and hands their bodies back to the caller. Listening starts
// before the triggering action so a fast response is never missed, and
// every wait is bounded.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// Payload is one captured response.
type Payload struct {
	Pattern    string
	URL        string
	Status     int
	Body       []byte
	CapturedAt time.Time
}

// Decode unmarshals the body into v.
func (p Payload) Decode(v interface{}) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", p.Pattern, err)
	}
	return nil
}

// JSON decodes the body into generic values.
func (p Payload) JSON() (interface{}, error) {
	var v interface{}
	err := p.Decode(&v)
	return v, err
}

// Result is what a capture produced. TimedOut marks a wait that ended
// without enough matching responses; Payloads then holds whatever arrived.
type Result struct {
	Payloads []Payload
	TimedOut bool
	Waited   time.Duration
	Patterns []string
}

// First returns the first payload, if any.
func (r *Result) First() (Payload, bool) {
	if r == nil || len(r.Payloads) == 0 {
		return Payload{}, false
	}
	return r.Payloads[0], true
}

// Last returns the most recent payload, if any.
func (r *Result) Last() (Payload, bool) {
	if r == nil || len(r.Payloads) == 0 {
		return Payload{}, false
	}
	return r.Payloads[len(r.Payloads)-1], true
}

// Err returns a CaptureTimeout error when the capture timed out empty.
func (r *Result) Err() error {
	if r == nil || !r.TimedOut || len(r.Payloads) > 0 {
		return nil
	}
	return &fault.Error{
		Kind:   fault.KindCaptureTimeout,
		Step:   "capture",
		Target: strings.Join(r.Patterns, " | "),
		Err:    fmt.Errorf("no matching response within %v", r.Waited),
	}
}

// Options bounds a capture.
type Options struct {
	Patterns []string
	Timeout  time.Duration
	// Max stops the capture once this many payloads arrived. Zero means one.
	Max int
	// Settle, when set, replaces Max: every payload is kept until the
	// trigger has returned and no matching request was seen or in flight
	// for Settle. Use it when the trigger causes several requests and only
	// the last one counts.
	Settle time.Duration
}

// Trigger performs the action expected to cause the captured request.
type Trigger func(ctx context.Context) error

type pending struct {
	url     string
	pattern string
	status  int
}

// Capture subscribes to src, runs trigger, and collects matching bodies
// until opts.Max arrived (or the settle window passed) or opts.Timeout
// elapsed. A timeout is not an error;
// trigger and subscription failures are.
func Capture(ctx context.Context, src Source, opts Options, trigger Trigger) (*Result, error) {
	if len(opts.Patterns) == 0 {
		return nil, fault.New(fault.KindValidation, "capture", "no URL patterns")
	}
	if opts.Max <= 0 {
		opts.Max = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 18 * time.Second
	}

	events, cancel, err := src.Subscribe(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnection, "capture", err)
	}
	defer cancel()

	result := &Result{Patterns: opts.Patterns}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	triggered := make(chan struct{})
	if trigger != nil {
		g.Go(func() error {
			if err := trigger(gctx); err != nil {
				return err
			}
			close(triggered)
			return nil
		})
	} else {
		close(triggered)
	}
	g.Go(func() error {
		return listen(gctx, src, events, opts, triggered, result)
	})

	err = g.Wait()
	result.Waited = time.Since(start)
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		logging.Capture("capture timed out after %v waiting for %s (%d payloads)",
			result.Waited.Round(time.Millisecond), strings.Join(opts.Patterns, ", "), len(result.Payloads))
	}
	return result, nil
}

func listen(ctx context.Context, src Source, events <-chan Event, opts Options, triggered <-chan struct{}, result *Result) error {
	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	// settle runs only once the trigger returned; any matching activity
	// restarts it.
	var settle *time.Timer
	var settleC <-chan time.Time
	if opts.Settle <= 0 {
		triggered = nil
	}
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()
	touch := func() {
		if settle != nil {
			settle.Reset(opts.Settle)
		}
	}

	tracked := make(map[string]*pending)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			result.TimedOut = true
			return nil
		case <-triggered:
			triggered = nil
			settle = time.NewTimer(opts.Settle)
			settleC = settle.C
		case <-settleC:
			if len(tracked) > 0 {
				settle.Reset(opts.Settle)
				continue
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				result.TimedOut = true
				return nil
			}
			switch ev.Kind {
			case EventRequest, EventResponse:
				p := tracked[ev.RequestID]
				if p == nil {
					pattern := Match(ev.URL, opts.Patterns)
					if pattern == "" {
						continue
					}
					p = &pending{url: ev.URL, pattern: pattern}
					tracked[ev.RequestID] = p
					logging.CaptureDebug("tracking %s (%s)", ev.RequestID, ev.URL)
				}
				touch()
				if ev.Kind == EventResponse {
					p.status = ev.Status
				}
			case EventFailed:
				delete(tracked, ev.RequestID)
			case EventFinished:
				p := tracked[ev.RequestID]
				if p == nil {
					continue
				}
				delete(tracked, ev.RequestID)
				body, err := src.Body(ctx, ev.RequestID)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					logging.CaptureDebug("body for %s unavailable: %v", p.url, err)
					continue
				}
				result.Payloads = append(result.Payloads, Payload{
					Pattern:    p.pattern,
					URL:        p.url,
					Status:     p.status,
					Body:       body,
					CapturedAt: time.Now(),
				})
				logging.Capture("captured %s status=%d bytes=%d", p.pattern, p.status, len(body))
				touch()
				if opts.Settle <= 0 && len(result.Payloads) >= opts.Max {
					return nil
				}
			}
		}
	}
}
