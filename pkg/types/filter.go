package types

import (
	"encoding/json"
	"strings"
)

// Combinator is the logical grouping a condition is registered under.
type Combinator string

const (
	Must    Combinator = "must"
	Should  Combinator = "should"
	MustNot Combinator = "must_not"
)

// Combinators lists every combinator in compilation order.
var Combinators = []Combinator{Must, Should, MustNot}

// ParseCombinator maps a caller supplied logic word to a combinator.
// "or" selects Should; anything else selects Must.
func ParseCombinator(s string) Combinator {
	if strings.EqualFold(strings.TrimSpace(s), "or") {
		return Should
	}
	return Must
}

// Cond is one condition on a field: an operator token, its operand and an
// optional third argument (used by time ranges and raw clauses).
type Cond struct {
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
	Extra any    `json:"extra,omitempty"`
}

// FieldCond holds every condition registered for one field in one bucket.
// Multi is set once a second condition lands on the same field.
type FieldCond struct {
	Field string `json:"field"`
	Conds []Cond `json:"conds"`
	Multi bool   `json:"multi,omitempty"`
}

// Tree is the normalized filter tree: per combinator, an insertion ordered
// list of field conditions with unique field names.
type Tree struct {
	buckets map[Combinator][]*FieldCond
}

// NewTree returns an empty filter tree.
func NewTree() *Tree {
	return &Tree{buckets: make(map[Combinator][]*FieldCond)}
}

// Add registers conds for field under c. Adding to a field that is already
// present appends to its list and marks it multi instead of overwriting.
func (t *Tree) Add(c Combinator, field string, conds ...Cond) {
	if len(conds) == 0 {
		return
	}
	if t.buckets == nil {
		t.buckets = make(map[Combinator][]*FieldCond)
	}
	if fc := t.Get(c, field); fc != nil {
		fc.Conds = append(fc.Conds, conds...)
		fc.Multi = true
		return
	}
	t.buckets[c] = append(t.buckets[c], &FieldCond{
		Field: field,
		Conds: append([]Cond(nil), conds...),
		Multi: len(conds) > 1,
	})
}

// Get returns the conditions registered for field under c, or nil.
func (t *Tree) Get(c Combinator, field string) *FieldCond {
	if t == nil {
		return nil
	}
	for _, fc := range t.buckets[c] {
		if fc.Field == field {
			return fc
		}
	}
	return nil
}

// Remove drops field from bucket c. It reports whether anything was removed.
func (t *Tree) Remove(c Combinator, field string) bool {
	if t == nil {
		return false
	}
	list := t.buckets[c]
	for i, fc := range list {
		if fc.Field == field {
			t.buckets[c] = append(list[:i:i], list[i+1:]...)
			if len(t.buckets[c]) == 0 {
				delete(t.buckets, c)
			}
			return true
		}
	}
	return false
}

// Fields returns the field conditions of bucket c in insertion order.
func (t *Tree) Fields(c Combinator) []*FieldCond {
	if t == nil {
		return nil
	}
	return t.buckets[c]
}

// Empty reports whether the tree holds no condition at all.
func (t *Tree) Empty() bool {
	if t == nil {
		return true
	}
	for _, list := range t.buckets {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy that can be mutated without affecting t.
// Operands are shared.
func (t *Tree) Clone() *Tree {
	out := NewTree()
	if t == nil {
		return out
	}
	for c, list := range t.buckets {
		cp := make([]*FieldCond, len(list))
		for i, fc := range list {
			cp[i] = &FieldCond{Field: fc.Field, Conds: append([]Cond(nil), fc.Conds...), Multi: fc.Multi}
		}
		out.buckets[c] = cp
	}
	return out
}

type treeBucket struct {
	Combinator Combinator   `json:"combinator"`
	Fields     []*FieldCond `json:"fields"`
}

// MarshalJSON renders the tree in a stable order so equal trees encode to
// equal bytes.
func (t *Tree) MarshalJSON() ([]byte, error) {
	out := make([]treeBucket, 0, len(Combinators))
	if t != nil {
		for _, c := range Combinators {
			if list := t.buckets[c]; len(list) > 0 {
				out = append(out, treeBucket{Combinator: c, Fields: list})
			}
		}
	}
	return json.Marshal(out)
}
