package capture

import (
	"context"
	"strings"
)

// EventKind distinguishes the network events a Source reports.
type EventKind int

const (
	// EventRequest is reported when a request is about to be sent.
	EventRequest EventKind = iota
	// EventResponse is reported when response headers arrive.
	EventResponse
	// EventFinished is reported when the response body is complete.
	EventFinished
	// EventFailed is reported when the request fails to load.
	EventFailed
)

// Event is one network event. URL and Status are only set on request and
// response events; the capture loop correlates the rest by RequestID.
type Event struct {
	Kind      EventKind
	RequestID string
	URL       string
	Status    int
}

// Source is a stream of network events for one page plus access to
// response bodies. Subscribe must deliver every event raised after it
// returns; cancel releases the subscription and closes the channel.
type Source interface {
	Subscribe(ctx context.Context) (events <-chan Event, cancel func(), err error)
	Body(ctx context.Context, requestID string) ([]byte, error)
}

// Match reports the first pattern contained in rawURL, or "".
func Match(rawURL string, patterns []string) string {
	for _, p := range patterns {
		if p != "" && strings.Contains(rawURL, p) {
			return p
		}
	}
	return ""
}
