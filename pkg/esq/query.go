package esq

import (
	"strings"
	"time"
	"unicode"

	"github.com/usestring/esquery/pkg/types"
)

// Query accumulates a query specification through chained calls. The
// first invalid call is remembered and returned by the next terminal call.
type Query struct {
	db *DB

	name  string // Survives finalization
	table string
	model string
	where *types.Tree
	err   error

	fields    []types.Projection
	sort      []types.SortField
	offset    int
	hasOffset bool
	limit     int
	limitSet  bool
	page      int
	pageSize  int
	hasPage   bool

	data        map[string]any
	cache       *types.CacheDirective
	fail        bool
	fetchCursor bool
	master      bool
	comment     string
	maxTime     time.Duration
}

// Table sets the target collection, used verbatim.
func (q *Query) Table(table string) *Query {
	q.table = strings.TrimSpace(table)
	return q
}

// Name sets the logical collection name. It resolves to the configured
// prefix plus name in snake case and is kept across terminal calls.
func (q *Query) Name(name string) *Query {
	q.name = name
	return q
}

// Model records a model name the caller can use to hydrate rows.
func (q *Query) Model(model string) *Query {
	q.model = model
	return q
}

// Field projects the result onto fields. Fields may be given as separate
// arguments or comma separated; "*" means all fields.
func (q *Query) Field(fields ...string) *Query {
	q.fields = projection(fields, true)
	return q
}

// Except projects the result onto every field but fields.
func (q *Query) Except(fields ...string) *Query {
	q.fields = projection(fields, false)
	return q
}

func projection(fields []string, include bool) []types.Projection {
	var out []types.Projection
	for _, f := range fields {
		for _, name := range strings.Split(f, ",") {
			name = strings.TrimSpace(name)
			if name == "" || name == "*" {
				continue
			}
			out = append(out, types.Projection{Field: name, Include: include})
		}
	}
	return out
}

// Order appends sort keys. field may hold several comma separated keys,
// each optionally followed by its own direction ("age desc, name").
func (q *Query) Order(field string, dir ...string) *Query {
	def := "asc"
	if len(dir) > 0 && dir[0] != "" {
		def = strings.ToLower(dir[0])
	}
	for _, part := range strings.Split(field, ",") {
		words := strings.Fields(part)
		if len(words) == 0 {
			continue
		}
		d := def
		if len(words) > 1 {
			d = strings.ToLower(words[1])
		}
		q.sort = append(q.sort, types.SortField{Field: words[0], Dir: d})
	}
	return q
}

// Limit caps the number of results.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	q.limitSet = true
	return q
}

// LimitOffset skips offset results and caps the rest at n.
func (q *Query) LimitOffset(offset, n int) *Query {
	q.offset = offset
	q.hasOffset = true
	return q.Limit(n)
}

// Page selects one page of size results. Pages start at 1; a size of 0
// uses the limit.
func (q *Query) Page(page, size int) *Query {
	q.page = page
	q.pageSize = size
	q.hasPage = true
	return q
}

// Cache caches the result of the next read for expire (0 means no
// expiry). An empty key derives the key from the query. An optional tag
// groups entries for ClearCacheTag.
func (q *Query) Cache(key string, expire time.Duration, tag ...string) *Query {
	d := &types.CacheDirective{Key: key, Expire: expire}
	if len(tag) > 0 {
		d.Tag = tag[0]
	}
	q.cache = d
	return q
}

// Master routes the next read to the write node.
func (q *Query) Master() *Query {
	q.master = true
	return q
}

// Fail makes the next Find or Select return a NotFoundError when nothing
// matched.
func (q *Query) Fail() *Query {
	q.fail = true
	return q
}

// FetchCursor makes the next Select return raw hits (_index, _id,
// _score, _source, sort) instead of document sources.
func (q *Query) FetchCursor() *Query {
	q.fetchCursor = true
	return q
}

// Comment tags the requests with an opaque id visible in engine logs.
func (q *Query) Comment(comment string) *Query {
	q.comment = comment
	return q
}

// MaxTime bounds the engine side execution time of reads.
func (q *Query) MaxTime(d time.Duration) *Query {
	q.maxTime = d
	return q
}

// Data merges fields into the write payload.
func (q *Query) Data(data map[string]any) *Query {
	if q.data == nil {
		q.data = make(map[string]any, len(data))
	}
	for k, v := range data {
		q.data[k] = v
	}
	return q
}

// Inc adds step to each comma separated field on the next update.
func (q *Query) Inc(field string, step float64) *Query {
	for _, f := range strings.Split(field, ",") {
		if f = strings.TrimSpace(f); f != "" {
			q.Data(map[string]any{f: types.Increment{Step: step}})
		}
	}
	return q
}

// Dec subtracts step from each comma separated field on the next update.
func (q *Query) Dec(field string, step float64) *Query {
	return q.Inc(field, -step)
}

// snakeCase converts a CamelCase name to snake_case.
func snakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
