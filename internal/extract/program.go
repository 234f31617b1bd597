// Package extract turns captured payloads and page state into typed
// records with jq programs, keeping the site's JSON shape out of Go code.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Program is a compiled jq filter.
type Program struct {
	name string
	code *gojq.Code
}

// Compile parses and compiles src.
func Compile(name, src string) (*Program, error) {
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Program{name: name, code: code}, nil
}

// MustCompile is Compile for package-level programs.
func MustCompile(name, src string) *Program {
	p, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Run collects every output of the program over input. input must be a
// value produced by encoding/json (maps, slices, float64, string, bool, nil).
func (p *Program) Run(ctx context.Context, input interface{}) ([]interface{}, error) {
	iter := p.code.RunWithContext(ctx, input)
	var out []interface{}
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		out = append(out, v)
	}
}

// Into runs the program and decodes its outputs, gathered as a JSON array,
// into out (a pointer to a slice).
func (p *Program) Into(ctx context.Context, input interface{}, out interface{}) error {
	vals, err := p.Run(ctx, input)
	if err != nil {
		return err
	}
	if vals == nil {
		vals = []interface{}{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

// Decode unmarshals raw JSON into generic values for Run.
func Decode(raw []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
