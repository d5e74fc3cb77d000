package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/usestring/esquery/internal/schema"
	"github.com/usestring/esquery/pkg/esq"
)

// QueryFile describes one query in YAML.
type QueryFile struct {
	Table     string      `json:"table" jsonschema:"description=Target collection used verbatim"`
	Where     []Condition `json:"where,omitempty" jsonschema:"description=Conditions applied in order"`
	Fields    []string    `json:"fields,omitempty" jsonschema:"description=Projected fields"`
	Except    []string    `json:"except,omitempty" jsonschema:"description=Excluded fields"`
	Order     []string    `json:"order,omitempty" jsonschema:"description=Sort keys such as 'created_at desc'"`
	Limit     *int        `json:"limit,omitempty" jsonschema:"minimum=0"`
	Offset    *int        `json:"offset,omitempty" jsonschema:"minimum=0"`
	Page      *Page       `json:"page,omitempty"`
	Master    bool        `json:"master,omitempty" jsonschema:"description=Read from the write node"`
	MaxTimeMs int         `json:"max_time_ms,omitempty" jsonschema:"minimum=0"`
	Comment   string      `json:"comment,omitempty" jsonschema:"description=Opaque id sent with the requests"`
}

// Condition is one filter entry. Op defaults to equality; Since replaces
// Op and Value with a relative time symbol such as "today" and is always
// joined with AND.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
	Since string `json:"since,omitempty"`
	Or    bool   `json:"or,omitempty" jsonschema:"description=Join with OR instead of AND"`
}

// Page selects one page of results.
type Page struct {
	Number int `json:"number" jsonschema:"minimum=1"`
	Size   int `json:"size,omitempty" jsonschema:"minimum=0"`
}

var queryFileValidator = mustValidator()

// mustValidator compiles the query file schema. The schema comes from
// static types, so a failure is a programming error.
func mustValidator() *schema.Validator {
	v, err := schema.NewValidator(&QueryFile{})
	if err != nil {
		panic(fmt.Sprintf("compiling query file schema: %v", err))
	}
	return v
}

// ParseQueryFile decodes and validates a YAML query file.
func ParseQueryFile(data []byte) (*QueryFile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting YAML: %w", err)
	}
	verrs, err := queryFileValidator.ValidateJSON(raw)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("invalid query file:\n  %s", strings.Join(verrs, "\n  "))
	}

	var qf QueryFile
	if err := json.Unmarshal(raw, &qf); err != nil {
		return nil, fmt.Errorf("decoding query file: %w", err)
	}
	if qf.Offset != nil && qf.Limit == nil {
		return nil, errors.New("invalid query file: offset needs a limit")
	}
	return &qf, nil
}

// LoadQueryFile reads and parses the query file at path.
func LoadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	return ParseQueryFile(data)
}

// Build starts a query on db carrying everything the file describes.
func (f *QueryFile) Build(db *esq.DB) *esq.Query {
	q := db.Table(f.Table)
	for _, c := range f.Where {
		switch {
		case c.Since != "":
			q.WhereTime(c.Field, c.Since)
		case c.Or:
			q.WhereOr(c.Field, c.args()...)
		default:
			q.Where(c.Field, c.args()...)
		}
	}
	if len(f.Fields) > 0 {
		q.Field(f.Fields...)
	}
	if len(f.Except) > 0 {
		q.Except(f.Except...)
	}
	for _, o := range f.Order {
		q.Order(o)
	}
	switch {
	case f.Offset != nil:
		q.LimitOffset(*f.Offset, *f.Limit)
	case f.Limit != nil:
		q.Limit(*f.Limit)
	}
	if f.Page != nil {
		q.Page(f.Page.Number, f.Page.Size)
	}
	if f.Master {
		q.Master()
	}
	if f.MaxTimeMs > 0 {
		q.MaxTime(time.Duration(f.MaxTimeMs) * time.Millisecond)
	}
	if f.Comment != "" {
		q.Comment(f.Comment)
	}
	return q
}

func (c Condition) args() []any {
	if c.Op == "" {
		return []any{c.Value}
	}
	return []any{c.Op, c.Value}
}
