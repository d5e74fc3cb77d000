// Package query evaluates jq expressions against result rows.
//
// It backs the single-field extraction of Value and Column, where a dotted
// field name walks nested objects, and the --jq output filter of the CLI.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/usestring/esquery/pkg/types"
)

// Engine executes jq queries against rows. Compiled expressions are kept
// for reuse.
type Engine struct {
	mu   sync.Mutex
	code map[string]*gojq.Code
	path *gojq.Code
}

// NewEngine creates a new query engine.
func NewEngine() *Engine {
	return &Engine{code: make(map[string]*gojq.Code)}
}

// QueryResult contains the results of a jq query.
type QueryResult struct {
	Values   []any    `json:"values"`           // Extracted values
	Errors   []string `json:"errors,omitempty"` // Per-row errors (e.g., type mismatch)
	RawCount int      `json:"raw_count"`        // Count before deduplication
}

// Extract returns the value of field in row. A literal key wins; otherwise
// a dotted name is followed through nested objects. The second result is
// false when the path does not resolve to a non-null value.
func (e *Engine) Extract(row types.Row, field string) (any, bool) {
	if v, ok := row[field]; ok {
		return v, v != nil
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	code, err := e.pathCode()
	if err != nil {
		return nil, false
	}
	parts := strings.Split(field, ".")
	path := make([]any, len(parts))
	for i, p := range parts {
		path[i] = p
	}

	iter := code.Run(map[string]any(row), path)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, v != nil
}

// Column extracts field from every row, skipping rows where it is absent.
func (e *Engine) Column(rows []types.Row, field string) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if v, ok := e.Extract(row, field); ok {
			out = append(out, v)
		}
	}
	return out
}

func (e *Engine) pathCode() (*gojq.Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path != nil {
		return e.path, nil
	}
	q, err := gojq.Parse("getpath($path)")
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(q, gojq.WithVariables([]string{"$path"}))
	if err != nil {
		return nil, err
	}
	e.path = code
	return code, nil
}

func (e *Engine) compile(expression string) (*gojq.Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.code[expression]; ok {
		return code, nil
	}

	q, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression: %w", err)
	}
	e.code[expression] = code
	return code, nil
}

// QueryRows executes a jq expression against each row in turn and
// combines the outputs. Errors are labeled with the row position.
func (e *Engine) QueryRows(rows []types.Row, expression string, deduplicate bool, maxResults int) (*QueryResult, error) {
	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	inputs := make([]any, len(rows))
	for i, row := range rows {
		// Round-trip so driver-side values (ints, time.Time) become plain JSON.
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encoding row %d: %w", i, err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decoding row %d: %w", i, err)
		}
		inputs[i] = v
	}

	result := &QueryResult{Values: make([]any, 0), Errors: make([]string, 0)}
	run(code, inputs, deduplicate, maxResults, result)
	return result, nil
}

func run(code *gojq.Code, inputs []any, deduplicate bool, maxResults int, result *QueryResult) {
	seen := make(map[string]bool)
	seenErrors := make(map[string]bool)

	for i, input := range inputs {
		name := "row"
		if len(inputs) > 1 {
			name = fmt.Sprintf("row[%d]", i)
		}

		iter := code.Run(input)
		for {
			if maxResults > 0 && len(result.Values) >= maxResults {
				return
			}
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				msg := formatJQError(name, err)
				if !seenErrors[msg] {
					result.Errors = append(result.Errors, msg)
					seenErrors[msg] = true
				}
				continue
			}
			if v == nil {
				continue
			}

			result.RawCount++
			if deduplicate {
				key := valueKey(v)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			result.Values = append(result.Values, v)
		}
	}
}

// formatJQError adds a hint to common runtime errors. gojq reports these
// as plain errors, so the hints are chosen by message text.
func formatJQError(label string, err error) string {
	var haltErr *gojq.HaltError
	if errors.As(err, &haltErr) {
		if haltErr.Value() == nil {
			return fmt.Sprintf("%s: query halted", label)
		}
		return fmt.Sprintf("%s: query halted with: %v", label, haltErr.Value())
	}

	errStr := err.Error()
	var hint string
	switch {
	case strings.Contains(errStr, "cannot iterate over: null"):
		hint = " (the field may be missing from this document)"
	case strings.Contains(errStr, "cannot index") && strings.Contains(errStr, "with"):
		hint = " (field not found or wrong type)"
	case strings.Contains(errStr, "object") && strings.Contains(errStr, "cannot be iterated"):
		hint = " (expected array but got object, try removing '[]')"
	}
	return fmt.Sprintf("%s: %s%s", label, errStr, hint)
}

// valueKey creates a string key for deduplication.
func valueKey(v any) string {
	switch val := v.(type) {
	case string:
		return "s:" + val
	case float64:
		return fmt.Sprintf("n:%v", val)
	case bool:
		return fmt.Sprintf("b:%v", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("?:%v", val)
		}
		return "j:" + string(b)
	}
}

// ValidateExpression checks if a jq expression is valid without executing it.
func (e *Engine) ValidateExpression(expression string) error {
	q, err := gojq.Parse(expression)
	if err != nil {
		var parseErr *gojq.ParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("invalid jq expression at position %d: %w", parseErr.Offset, err)
		}
		return fmt.Errorf("invalid jq expression: %w", err)
	}
	if _, err := gojq.Compile(q); err != nil {
		return fmt.Errorf("failed to compile jq expression: %w", err)
	}
	return nil
}
