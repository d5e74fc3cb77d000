package types

import (
	"strconv"
	"time"
)

// Projection marks one requested field as included or excluded.
type Projection struct {
	Field   string `json:"field"`
	Include bool   `json:"include"`
}

// SortField is one ordered sort key.
type SortField struct {
	Field string `json:"field"`
	Dir   string `json:"dir"`
}

// CacheDirective asks for a read to be cached. An empty Key means the key
// is derived from the finalized specification.
type CacheDirective struct {
	Key    string        `json:"key,omitempty"`
	Expire time.Duration `json:"expire,omitempty"`
	Tag    string        `json:"tag,omitempty"`
}

// Increment is a write payload value meaning "add Step to the stored value".
// Decrements carry a negative step.
type Increment struct {
	Step float64 `json:"step"`
}

// String renders the step without a trailing fraction for whole numbers.
func (i Increment) String() string {
	return strconv.FormatFloat(i.Step, 'f', -1, 64)
}

// Spec is a finalized, single-use query specification. It is produced by
// the accumulator and consumed by the compiler.
type Spec struct {
	Table       string          `json:"table"`
	Model       string          `json:"model,omitempty"`
	Where       *Tree           `json:"where"`
	Fields      []Projection    `json:"fields,omitempty"`
	Sort        []SortField     `json:"sort,omitempty"`
	Offset      int             `json:"offset,omitempty"`
	HasOffset   bool            `json:"has_offset,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	LimitSet    bool            `json:"limit_set,omitempty"`
	Data        map[string]any  `json:"data,omitempty"`
	Cache       *CacheDirective `json:"cache,omitempty"`
	Fail        bool            `json:"fail,omitempty"`
	FetchCursor bool            `json:"fetch_cursor,omitempty"`
	Master      bool            `json:"master,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	MaxTime     time.Duration   `json:"max_time,omitempty"`
}
