// Package login derives the login state of a surface from the page and
// decides how a workflow proceeds from it. State is never persisted:
// cookies expire between runs, so every invocation probes again.
package login

import (
	"fmt"

	"xhspilot/internal/fault"
)

// State is the login state observed on one surface.
type State string

const (
	Unknown              State = "unknown"
	Anonymous            State = "anonymous"
	HomeAuthenticated    State = "home_authenticated"
	CreatorAuthenticated State = "creator_authenticated"
)

// Surface is an independent login domain.
type Surface string

const (
	SurfaceCreator Surface = "creator"
	SurfaceHome    Surface = "home"
)

// ParseSurface accepts "creator" or "home".
func ParseSurface(s string) (Surface, error) {
	switch Surface(s) {
	case SurfaceCreator, SurfaceHome:
		return Surface(s), nil
	case "":
		return SurfaceCreator, nil
	}
	return "", fault.New(fault.KindValidation, "login", "unknown surface %q (want creator or home)", s)
}

// Authenticated returns the state that counts as logged in on s.
func (s Surface) Authenticated() State {
	if s == SurfaceHome {
		return HomeAuthenticated
	}
	return CreatorAuthenticated
}

// Action is what a workflow does after the gate.
type Action int

const (
	Proceed Action = iota
	// Escalate restarts the browser windowed and waits for a QR login.
	Escalate
	Fail
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case Escalate:
		return "escalate"
	default:
		return "fail"
	}
}

// Decide is the gate transition table. Only an anonymous headless run may
// escalate; a windowed run already shows the user the page.
func Decide(state State, surface Surface, headless, allowEscalate bool) Action {
	switch {
	case state == surface.Authenticated():
		return Proceed
	case state == Anonymous && headless && allowEscalate:
		return Escalate
	default:
		return Fail
	}
}

// Assert returns AuthRequired unless state is authenticated on surface.
func Assert(state State, surface Surface) error {
	if state == surface.Authenticated() {
		return nil
	}
	return &fault.Error{
		Kind:   fault.KindAuthRequired,
		Step:   "check_login",
		Target: string(surface),
		Err:    fmt.Errorf("login state is %s", state),
	}
}
