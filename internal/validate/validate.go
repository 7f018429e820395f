// Package validate parses agent output and checks it against a task's
// declared schema.
//
// A check moves through Unparsed, then Parsed once a JSON object has been
// extracted, and ends Validated or Rejected. Rejected output can be coerced
// by re-prompting the agent a bounded number of times.
package validate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// MaxReprompts is how many times Coerce asks for a corrected output. It is
// independent of the agent's iteration budget.
const MaxReprompts = 2

// State is the position of an output in the validation state machine.
type State int

const (
	Unparsed State = iota
	Parsed
	Validated
	Rejected
)

func (s State) String() string {
	switch s {
	case Unparsed:
		return "unparsed"
	case Parsed:
		return "parsed"
	case Validated:
		return "validated"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MismatchError lists every problem found in one output.
type MismatchError struct {
	Schema   string
	Problems []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: output does not match %s: %s", crewerr.ErrSchemaMismatch, e.Schema, strings.Join(e.Problems, "; "))
}

func (e *MismatchError) Unwrap() error { return crewerr.ErrSchemaMismatch }

// Result is the outcome of a single check.
type Result struct {
	State  State
	Value  map[string]any
	Reason *MismatchError
}

// Check runs the state machine on raw against schema.
func Check(raw string, schema *models.SchemaDescriptor) Result {
	res := Result{State: Unparsed}
	objs, err := extract(raw)
	if err != nil {
		res.State = Rejected
		res.Reason = &MismatchError{Schema: schema.Name, Problems: []string{err.Error()}}
		return res
	}
	res.State = Parsed

	// The first object that fits wins; otherwise report on the first one.
	var firstProblems []string
	for i, value := range objs {
		problems := checkFields(value, schema)
		if len(problems) == 0 {
			res.State = Validated
			res.Value = value
			return res
		}
		if i == 0 {
			firstProblems = problems
		}
	}
	res.State = Rejected
	res.Value = objs[0]
	res.Reason = &MismatchError{Schema: schema.Name, Problems: firstProblems}
	return res
}

// Validate returns raw as an Output. With no schema the text passes through
// unchanged; otherwise the output must reach Validated or a ValidationError
// is returned.
func Validate(raw string, schema *models.SchemaDescriptor) (*models.Output, error) {
	if schema == nil {
		return &models.Output{Raw: raw}, nil
	}
	res := Check(raw, schema)
	if res.State != Validated {
		return nil, crewerr.New(crewerr.KindValidation, "validate", res.Reason)
	}
	return &models.Output{Raw: raw, JSON: res.Value, Schema: schema.Name}, nil
}

// RepromptFunc asks the producing agent to re-emit its output given feedback.
type RepromptFunc func(ctx context.Context, previous, feedback string) (string, error)

// Coerce validates raw and, on rejection, re-prompts up to MaxReprompts times.
// Errors from reprompt propagate unchanged.
func Coerce(ctx context.Context, raw string, schema *models.SchemaDescriptor, reprompt RepromptFunc) (*models.Output, error) {
	out, err := Validate(raw, schema)
	for attempt := 0; err != nil && attempt < MaxReprompts && reprompt != nil; attempt++ {
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, crewerr.New(crewerr.KindCancelled, "coerce", fmt.Errorf("%w: %w", crewerr.ErrCancelled, ctxErr))
		}
		raw, err = reprompt(ctx, raw, Feedback(schema, mismatch))
		if err != nil {
			return nil, err
		}
		out, err = Validate(raw, schema)
	}
	return out, err
}

// Feedback renders a correction request for a rejected output.
func Feedback(schema *models.SchemaDescriptor, mismatch *MismatchError) string {
	var b strings.Builder
	b.WriteString("Your previous answer did not match the required format.\nProblems:\n")
	for _, p := range mismatch.Problems {
		b.WriteString("- " + p + "\n")
	}
	b.WriteString("\n")
	b.WriteString(Describe(schema))
	return b.String()
}

// Describe renders the schema as an instruction for the agent.
func Describe(schema *models.SchemaDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object (%s) with these fields:\n", schema.Name)
	for _, f := range schema.Fields {
		typ := string(f.Type)
		if f.Type == models.FieldArray && f.Items != "" {
			typ = "array of " + string(f.Items)
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %q (%s, %s)", f.Name, typ, req)
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func checkFields(value map[string]any, schema *models.SchemaDescriptor) []string {
	var problems []string
	for _, f := range schema.Fields {
		v, present := value[f.Name]
		if !present || v == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		if !hasType(v, f.Type) {
			problems = append(problems, fmt.Sprintf("field %q must be %s, got %s", f.Name, f.Type, typeName(v)))
			continue
		}
		if f.Type == models.FieldArray && f.Items != "" {
			for i, item := range v.([]any) {
				if !hasType(item, f.Items) {
					problems = append(problems, fmt.Sprintf("field %q item %d must be %s, got %s", f.Name, i, f.Items, typeName(item)))
				}
			}
		}
	}
	sort.Strings(problems)
	return problems
}

func hasType(v any, t models.FieldType) bool {
	switch t {
	case models.FieldString:
		_, ok := v.(string)
		return ok
	case models.FieldNumber:
		_, ok := v.(float64)
		return ok
	case models.FieldInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case models.FieldBoolean:
		_, ok := v.(bool)
		return ok
	case models.FieldArray:
		_, ok := v.([]any)
		return ok
	case models.FieldObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func typeName(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		if t == math.Trunc(t) {
			return "integer"
		}
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
