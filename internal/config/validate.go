package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource []byte

// ErrInvalid is matched by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Problem is one violated constraint.
type Problem struct {
	Path    string
	Message string
}

// ValidationError lists every constraint the configuration violates.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Path == "" {
			parts = append(parts, p.Message)
			continue
		}
		parts = append(parts, p.Path+": "+p.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks c against the embedded schema, then the rules that span
// several fields.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data := ctx.CompileBytes(raw, cue.Filename("config"))
	if err := data.Err(); err != nil {
		return fmt.Errorf("load config value: %w", err)
	}

	var problems []Problem
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		problems = append(problems, cueProblems(err)...)
	}

	if c.Heartbeat.Timeout >= c.Heartbeat.Interval {
		problems = append(problems, Problem{
			Path:    "heartbeat.timeout",
			Message: fmt.Sprintf("must be shorter than heartbeat.interval (%s)", c.Heartbeat.Interval),
		})
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func cueProblems(err error) []Problem {
	var out []Problem
	for _, e := range cueerrors.Errors(err) {
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		format, args := e.Msg()
		out = append(out, Problem{
			Path:    strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}
