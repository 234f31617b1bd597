package automation

import (
	"fmt"
	"time"
)

// StepKind is the action a Step performs.
type StepKind string

const (
	StepClick  StepKind = "click"
	StepType   StepKind = "type"
	StepWait   StepKind = "wait"
	StepUpload StepKind = "upload"
)

// Step pairs an action with where to perform it. Selector values are data
// supplied by the selector catalog; Fallbacks are tried in order when the
// primary selector matches nothing.
type Step struct {
	Name      string        `yaml:"-"`
	Kind      StepKind      `yaml:"kind"`
	Selector  string        `yaml:"selector"`
	Fallbacks []string      `yaml:"fallbacks,omitempty"`
	Text      string        `yaml:"text,omitempty"`  // visible text filter for click steps
	Exact     bool          `yaml:"exact,omitempty"` // Text must match the whole element text
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Candidates returns the primary selector followed by its fallbacks.
func (s Step) Candidates() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	if s.Selector != "" {
		out = append(out, s.Selector)
	}
	for _, f := range s.Fallbacks {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the step is well formed.
func (s Step) Validate() error {
	switch s.Kind {
	case StepClick, StepType, StepWait, StepUpload:
	default:
		return fmt.Errorf("step %q: unknown kind %q", s.Name, s.Kind)
	}
	if len(s.Candidates()) == 0 {
		return fmt.Errorf("step %q: no selector", s.Name)
	}
	return nil
}
