// Package meta caches per-collection field metadata read from the engine's
// mapping endpoint.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/usestring/esquery/internal/logging"
	"github.com/usestring/esquery/pkg/client"
)

// MappingSource fetches the mappings of a collection.
type MappingSource interface {
	Mapping(ctx context.Context, index string) (client.MappingResponse, error)
}

// TableInfo describes one collection.
type TableInfo struct {
	Name   string
	Fields []string          // Dotted field names, sorted
	Types  map[string]string // Field name to type tag
	PK     string
}

// Cache holds TableInfo per collection. Entries load lazily on first use,
// at most once per collection even under concurrent first access, and are
// never refreshed until cleared.
type Cache struct {
	source  MappingSource
	docType string
	pk      string
	logger  *slog.Logger

	mu     sync.RWMutex
	tables map[string]*TableInfo
	group  singleflight.Group
}

// New creates a metadata cache reading from source.
func New(source MappingSource, docType, pk string, logger *slog.Logger) *Cache {
	return &Cache{
		source:  source,
		docType: docType,
		pk:      pk,
		logger:  logging.Default(logger).With("component", "meta"),
		tables:  make(map[string]*TableInfo),
	}
}

// Table returns the metadata of table, loading it on first use.
func (c *Cache) Table(ctx context.Context, table string) (*TableInfo, error) {
	c.mu.RLock()
	info, ok := c.tables[table]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	// The fetch is shared by every waiter on table, so it must not end
	// with the context of whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(table, func() (any, error) {
		c.mu.RLock()
		info, ok := c.tables[table]
		c.mu.RUnlock()
		if ok {
			return info, nil
		}

		resp, err := c.source.Mapping(fetchCtx, table)
		if err != nil {
			return nil, err
		}
		info, err = ParseMapping(table, resp, c.docType)
		if err != nil {
			return nil, err
		}
		info.PK = c.pk

		c.mu.Lock()
		c.tables[table] = info
		c.mu.Unlock()

		c.logger.Debug("loaded table metadata",
			slog.String("table", table),
			slog.Int("fields", len(info.Fields)),
		)
		return info, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loading metadata of %q: %w", table, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("loading metadata of %q: %w", table, res.Err)
		}
		return res.Val.(*TableInfo), nil
	}
}

// FieldTypes returns the type tag of every field of table.
func (c *Cache) FieldTypes(ctx context.Context, table string) (map[string]string, error) {
	info, err := c.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.Types, nil
}

// Clear forgets the metadata of table.
func (c *Cache) Clear(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, table)
}

// ClearAll forgets every table.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string]*TableInfo)
}

type property struct {
	Type       string              `json:"type"`
	Format     string              `json:"format"`
	Properties map[string]property `json:"properties"`
}

type mappingBody struct {
	Properties map[string]property `json:"properties"`
}

// ParseMapping builds TableInfo from a mapping response. When table is an
// alias the response is keyed by concrete index names and their fields are
// merged. Typed mappings are read from docType, or from their single type.
func ParseMapping(table string, resp client.MappingResponse, docType string) (*TableInfo, error) {
	var indices []string
	if _, ok := resp[table]; ok {
		indices = []string{table}
	} else {
		for name := range resp {
			indices = append(indices, name)
		}
		sort.Strings(indices)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no mapping returned for %q", table)
	}

	info := &TableInfo{Name: table, Types: make(map[string]string)}
	for _, name := range indices {
		props, err := properties(resp[name].Mappings, docType)
		if err != nil {
			return nil, fmt.Errorf("decoding mapping of %q: %w", name, err)
		}
		flatten("", props, info.Types)
	}

	for field := range info.Types {
		info.Fields = append(info.Fields, field)
	}
	sort.Strings(info.Fields)
	return info, nil
}

func properties(raw json.RawMessage, docType string) (map[string]property, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var body mappingBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body.Properties != nil {
		return body.Properties, nil
	}

	var typed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, err
	}
	if docType != "" {
		if r, ok := typed[docType]; ok {
			return typeProperties(r), nil
		}
	}
	var found map[string]property
	n := 0
	for _, r := range typed {
		if p := typeProperties(r); p != nil {
			found = p
			n++
		}
	}
	if n == 1 {
		return found, nil
	}
	return nil, nil
}

func typeProperties(raw json.RawMessage) map[string]property {
	var m mappingBody
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m.Properties
}

// flatten records every leaf property under its dotted name. A date with
// an explicit format is tagged with that format.
func flatten(prefix string, props map[string]property, out map[string]string) {
	for name, p := range props {
		field := name
		if prefix != "" {
			field = prefix + "." + name
		}
		if len(p.Properties) > 0 {
			flatten(field, p.Properties, out)
			continue
		}
		typ := p.Type
		if typ == "date" && p.Format != "" {
			typ = p.Format
		}
		out[field] = typ
	}
}
