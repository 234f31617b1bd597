// Package automation drives a single browser tab through bounded, jittered
// primitives: navigate, wait, type, click, upload and tag entry.
package automation

import (
	"context"
	"encoding/json"
)

// Page is the command surface of one attached tab. Selector-taking methods
// act on the first element matching the CSS selector.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	// Has reports whether a visible element matches selector.
	Has(ctx context.Context, selector string) (bool, error)
	// Eval runs a JS function expression with args and returns the JSON
	// encoding of its (awaited) return value.
	Eval(ctx context.Context, js string, args ...interface{}) ([]byte, error)

	Input(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	SetFiles(ctx context.Context, selector string, paths []string) error

	// InsertText types at the current caret without targeting an element.
	InsertText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key Key) error
	MouseMove(ctx context.Context, x, y float64) error
	MouseClick(ctx context.Context, x, y float64) error
}

// Key names a keyboard key understood by Page.PressKey.
type Key string

const (
	KeyEnter  Key = "Enter"
	KeyEscape Key = "Escape"
)

// Rect is an element bounding box in viewport CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of r.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// EvalInto runs js and decodes its result into out.
func EvalInto(ctx context.Context, p Page, out interface{}, js string, args ...interface{}) error {
	raw, err := p.Eval(ctx, js, args...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// EvalBool runs js and reports its truthiness as a JSON boolean.
func EvalBool(ctx context.Context, p Page, js string, args ...interface{}) (bool, error) {
	var ok bool
	raw, err := p.Eval(ctx, js, args...)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, nil
	}
	return ok, nil
}
