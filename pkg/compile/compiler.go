// Package compile turns finalized query specifications into Elasticsearch
// request envelopes.
//
// Filters compile into a bool query. Phrase and phrase-prefix matches sit
// directly under their combinator so they contribute to scoring; every other
// clause is nested under bool.filter.bool.<combinator>:
//
//	{"bool": {
//	    "must":   [{"match_phrase": {...}}],
//	    "filter": {"bool": {"must": [{"term": {...}}], "must_not": [...]}}
//	}}
//
// An empty filter compiles to match_all. Compilation is deterministic: the
// same specification always yields byte-identical envelopes.
package compile

import (
	"context"
	"fmt"
	"strings"

	"github.com/usestring/esquery/pkg/types"
)

// DefaultPrimaryKey is the document field used as the engine _id.
const DefaultPrimaryKey = "id"

// TypeResolver returns the stored type tag of each field of a collection.
// It is consulted only when a time comparison is compiled.
type TypeResolver interface {
	FieldTypes(ctx context.Context, table string) (map[string]string, error)
}

// Compiler builds request envelopes. It is safe for concurrent use.
type Compiler struct {
	docType string
	pk      string
	types   TypeResolver
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDocType sets the document type written into bulk action metadata.
// Leave empty for engines without mapping types.
func WithDocType(docType string) Option {
	return func(c *Compiler) {
		c.docType = docType
	}
}

// WithPrimaryKey sets the field whose value becomes the document _id.
func WithPrimaryKey(pk string) Option {
	return func(c *Compiler) {
		if pk != "" {
			c.pk = pk
		}
	}
}

// WithTypeResolver sets the field type source used for date normalization.
func WithTypeResolver(r TypeResolver) Option {
	return func(c *Compiler) {
		c.types = r
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{pk: DefaultPrimaryKey}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PrimaryKey returns the configured primary key field.
func (c *Compiler) PrimaryKey() string {
	return c.pk
}

func (c *Compiler) envelope(spec *types.Spec, body map[string]any) *types.Request {
	return &types.Request{
		Index:    spec.Table,
		DocType:  c.docType,
		Body:     body,
		OpaqueID: spec.Comment,
	}
}

func checkTable(spec *types.Spec) error {
	if spec == nil || strings.TrimSpace(spec.Table) == "" {
		return types.NewCompileError("", "missing target collection")
	}
	return nil
}

func timeout(spec *types.Spec, body map[string]any) {
	if spec.MaxTime > 0 {
		body["timeout"] = fmt.Sprintf("%dms", spec.MaxTime.Milliseconds())
	}
}
