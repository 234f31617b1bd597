// Package fault defines the typed failure categories surfaced by browser workflows.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide how to react without
// parsing error strings.
type Kind string

const (
	KindNone               Kind = ""
	KindValidation         Kind = "validation"          // bad input, caught before the browser is touched
	KindLaunch             Kind = "launch"              // browser process could not be started
	KindConnection         Kind = "connection"          // debug endpoint unreachable
	KindAuthRequired       Kind = "auth_required"       // wrong or missing login state
	KindSelectorTimeout    Kind = "selector_timeout"    // element not found within bounded retries
	KindCaptureTimeout     Kind = "capture_timeout"     // expected network payload never arrived
	KindContentUnavailable Kind = "content_unavailable" // post deleted or private
	KindInstanceBusy       Kind = "instance_busy"       // port lock held by another run
	KindUnverified         Kind = "unverified"          // publish clicked but read-back failed
	KindDuplicate          Kind = "duplicate"           // identical request already published
	KindInternal           Kind = "internal"
)

// Sentinels allow errors.Is(err, fault.ErrAuthRequired) style checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrLaunch             = &Error{Kind: KindLaunch}
	ErrConnection         = &Error{Kind: KindConnection}
	ErrAuthRequired       = &Error{Kind: KindAuthRequired}
	ErrSelectorTimeout    = &Error{Kind: KindSelectorTimeout}
	ErrCaptureTimeout     = &Error{Kind: KindCaptureTimeout}
	ErrContentUnavailable = &Error{Kind: KindContentUnavailable}
	ErrInstanceBusy       = &Error{Kind: KindInstanceBusy}
	ErrUnverified         = &Error{Kind: KindUnverified}
	ErrDuplicate          = &Error{Kind: KindDuplicate}
)

// Error carries enough context to diagnose a failure without replaying the
// browser session.
type Error struct {
	Kind    Kind
	Step    string // workflow step or primitive name
	Target  string // selector, URL pattern or endpoint
	Account string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Step != "" {
		b.WriteString(" [step=")
		b.WriteString(e.Step)
		b.WriteString("]")
	}
	if e.Target != "" {
		b.WriteString(" [target=")
		b.WriteString(e.Target)
		b.WriteString("]")
	}
	if e.Account != "" {
		b.WriteString(" [account=")
		b.WriteString(e.Account)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by category.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Step == "" && t.Err == nil
}

// New builds a categorized error.
func New(kind Kind, step string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

// Wrap categorizes err. An err that is already categorized keeps its kind;
// only missing context is filled in. Sentinels are never mutated.
func Wrap(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Step == "" && fe.Err != nil {
			fe.Step = step
		}
		return err
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// WithTarget returns err annotated with a selector or pattern when it is a
// categorized error that has none yet.
func WithTarget(err error, target string) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Target == "" && fe.Err != nil {
		fe.Target = target
	}
	return err
}

// WithAccount stamps the account id onto a categorized error.
func WithAccount(err error, account string) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Account == "" && fe.Err != nil {
		fe.Account = account
	}
	return err
}

// KindOf reports the category of err, KindInternal for uncategorized errors
// and KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// StepOf reports the step recorded on err, if any.
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}

// ExitCode maps a failure onto the CLI exit status contract.
func ExitCode(err error) int {
	switch KindOf(err) {
	case KindNone:
		return 0
	case KindAuthRequired:
		return 1
	case KindInstanceBusy:
		return 3
	default:
		return 2
	}
}
