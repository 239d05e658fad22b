// Package llmparse recovers structured values from model output that is
// fenced, truncated, loosely quoted or otherwise not valid JSON.
//
// Recovery runs in stages and stops at the first that succeeds: strict
// decoding of the extracted candidate, textual repairs, relaxed literal
// evaluation, per-field reconstruction and finally closing a truncated
// document. Each stage is exported so it can be exercised on its own.
package llmparse

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxInputBytes bounds the text any stage looks at. Longer inputs are cut
// before extraction.
const MaxInputBytes = 1 << 20

// ErrUnrecoverable is returned when no stage produced a structured value.
// Callers skip the item rather than fail the batch.
var ErrUnrecoverable = errors.New("llmparse: unrecoverable response")

type Stage string

const (
	StageStrict   Stage = "strict"
	StageRepaired Stage = "repaired"
	StageRelaxed  Stage = "relaxed"
	StageFields   Stage = "fields"
	StageClosed   Stage = "closed"
)

// Result is a recovered value, either map[string]any or []any, with the
// stage that produced it and the text that finally decoded.
type Result struct {
	Value any
	Stage Stage
	Text  string
}

// Parse recovers a JSON object or array from text. When keys are given and
// the whole document cannot be recovered, those top-level fields are rebuilt
// one by one.
func Parse(text string, keys ...string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: %v", ErrUnrecoverable, r)
		}
	}()

	if len(text) > MaxInputBytes {
		text = text[:MaxInputBytes]
	}
	candidate := ExtractCandidate(text)
	if candidate == "" {
		return Result{}, ErrUnrecoverable
	}
	if v, stage, ok := parseCandidate(candidate); ok {
		return Result{Value: v, Stage: stage, Text: candidate}, nil
	}
	if len(keys) > 0 {
		if fields := ReconstructFields(candidate, keys); fields != nil {
			return Result{Value: fields, Stage: StageFields}, nil
		}
	}
	if closed := CloseTruncated(candidate); closed != candidate {
		if v, _, ok := parseCandidate(closed); ok {
			return Result{Value: v, Stage: StageClosed, Text: closed}, nil
		}
	}
	return Result{}, ErrUnrecoverable
}

// parseCandidate runs the strict, repair and relaxed stages on one piece of
// text.
func parseCandidate(s string) (any, Stage, bool) {
	if v, ok := strict(s); ok {
		return v, StageStrict, true
	}
	repaired := Repair(s)
	if repaired != s {
		if v, ok := strict(repaired); ok {
			return v, StageRepaired, true
		}
	}
	// Repairs split unquoted multi-word values, so the untouched text is
	// evaluated first.
	if v, err := RelaxedEval(s); err == nil {
		return v, StageRelaxed, true
	}
	if repaired != s {
		if v, err := RelaxedEval(repaired); err == nil {
			return v, StageRelaxed, true
		}
	}
	return nil, "", false
}

func strict(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// Decode parses text and maps the recovered value onto out, which must be a
// pointer. Fields whose JSON type does not match out are left at their zero
// value instead of failing the decode; schema gaps are the caller's to fill.
func Decode(text string, out any, keys ...string) (Stage, error) {
	res, err := Parse(text, keys...)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		return "", fmt.Errorf("re-encode recovered value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return "", fmt.Errorf("decode recovered value: %w", err)
		}
	}
	return res.Stage, nil
}
