package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/usestring/esquery/pkg/types"
)

// Insert compiles a single document index action.
func (c *Compiler) Insert(spec *types.Spec, data map[string]any) (*types.Request, error) {
	return c.InsertAll(spec, []map[string]any{data})
}

// InsertAll compiles one index action per document, in input order. A
// document carrying the primary key field is indexed under that id.
func (c *Compiler) InsertAll(spec *types.Spec, rows []map[string]any) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.NewCompileError("", "no documents to insert")
	}

	req := c.envelope(spec, nil)
	req.Bulk = make([]map[string]any, 0, 2*len(rows))
	for _, row := range rows {
		doc := parseData(row)
		meta := c.actionMeta(spec.Table, "")
		if id, ok := doc[c.pk]; ok && id != nil && fmt.Sprint(id) != "" {
			meta["_id"] = fmt.Sprint(id)
		}
		req.Bulk = append(req.Bulk, map[string]any{"index": meta}, doc)
	}
	return req, nil
}

// Update compiles an update. With ids, each id gets a targeted update action
// carrying a partial document (or a script when the payload holds
// increments). Without ids, the filter tree scopes an update-by-query whose
// script assigns every payload field.
func (c *Compiler) Update(ctx context.Context, spec *types.Spec, data map[string]any, ids []string) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewCompileError("", "no data to update")
	}

	if len(ids) > 0 {
		req := c.envelope(spec, nil)
		var doc map[string]any
		if hasIncrement(data) {
			doc = map[string]any{"script": map[string]any{"source": RenderScript(data), "lang": "painless"}}
		} else {
			doc = map[string]any{"doc": parseData(data)}
		}
		for _, id := range ids {
			req.Bulk = append(req.Bulk, map[string]any{"update": c.actionMeta(spec.Table, id)}, doc)
		}
		return req, nil
	}

	query, err := c.CompileFilter(ctx, spec.Table, spec.Where)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"query":  query,
		"script": map[string]any{"source": RenderScript(data), "lang": "painless"},
	}
	maxDocs(spec, body)
	return c.envelope(spec, body), nil
}

// Delete compiles a delete: one targeted action per id, or a delete-by-query
// scoped by the filter tree when ids is empty.
func (c *Compiler) Delete(ctx context.Context, spec *types.Spec, ids []string) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		req := c.envelope(spec, nil)
		for _, id := range ids {
			req.Bulk = append(req.Bulk, map[string]any{"delete": c.actionMeta(spec.Table, id)})
		}
		return req, nil
	}

	query, err := c.CompileFilter(ctx, spec.Table, spec.Where)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"query": query}
	maxDocs(spec, body)
	return c.envelope(spec, body), nil
}

func (c *Compiler) actionMeta(index, id string) map[string]any {
	meta := map[string]any{"_index": index}
	if c.docType != "" {
		meta["_type"] = c.docType
	}
	if id != "" {
		meta["_id"] = id
	}
	return meta
}

func maxDocs(spec *types.Spec, body map[string]any) {
	if spec.LimitSet && spec.Limit > 0 {
		body["max_docs"] = spec.Limit
	}
}

// parseData copies a write payload, resolving increment values to their step.
func parseData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		key := strings.TrimSpace(k)
		switch t := v.(type) {
		case types.Increment:
			out[key] = t.Step
		case *types.Increment:
			out[key] = t.Step
		default:
			out[key] = v
		}
	}
	return out
}

func hasIncrement(data map[string]any) bool {
	for _, v := range data {
		switch v.(type) {
		case types.Increment, *types.Increment:
			return true
		}
	}
	return false
}

// RenderScript renders a payload as painless assignments, one statement per
// field in key order. Numbers, booleans and null are written bare, other
// values are single-quoted. Increments render as += or -=.
func RenderScript(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		target := "ctx._source." + strings.TrimSpace(k)
		switch v := data[k].(type) {
		case types.Increment:
			sb.WriteString(incrementStatement(target, v))
		case *types.Increment:
			sb.WriteString(incrementStatement(target, *v))
		default:
			sb.WriteString(target)
			sb.WriteString("=")
			sb.WriteString(scriptLiteral(v))
			sb.WriteString(";")
		}
	}
	return sb.String()
}

func incrementStatement(target string, inc types.Increment) string {
	if inc.Step < 0 {
		return target + "-=" + types.Increment{Step: -inc.Step}.String() + ";"
	}
	return target + "+=" + inc.String() + ";"
}

func scriptLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case string:
		return quote(t)
	}
	return quote(fmt.Sprint(v))
}

var scriptEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quote(s string) string {
	return "'" + scriptEscaper.Replace(s) + "'"
}
