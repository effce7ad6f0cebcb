package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqFilter is a compiled --jq expression applied to command output.
type jqFilter struct {
	code *gojq.Code
}

// compileJQ returns nil for an empty expression.
func compileJQ(expr string) (*jqFilter, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return &jqFilter{code: code}, nil
}

// Run evaluates the filter against v and returns every output. v is first
// round-tripped through JSON so the filter sees the same field names as the
// JSON output.
func (f *jqFilter) Run(v interface{}) ([]interface{}, error) {
	input, err := toJQValue(v)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	iter := f.code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		out = append(out, result)
	}
	return out, nil
}

func toJQValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jq input: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jq input: %w", err)
	}
	return out, nil
}
