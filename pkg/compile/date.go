package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

var parseLayouts = []string{
	DateTimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	DateLayout,
	"2006/01/02 15:04:05",
	"2006/01/02",
}

var jodaReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
	"'", "",
)

func (c *Compiler) normalizeDate(ctx context.Context, table, field string, v any) (any, error) {
	if c.types == nil {
		return NormalizeDate(v, "", false), nil
	}
	fieldTypes, err := c.types.FieldTypes(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("loading field types of %s: %w", table, err)
	}
	typ, known := fieldTypes[field]
	return NormalizeDate(v, typ, known), nil
}

// NormalizeDate formats a time operand for a field of the given stored type.
// "date" formats as YYYY-MM-DD, a yyyy pattern (such as "yyyy-MM-dd HH:mm:ss")
// formats with that pattern, epoch formats give epoch numbers, and any other
// known type gets epoch seconds. Values that do not parse as a time, and
// values for fields of unknown type, pass through unchanged, except
// time.Time which always becomes epoch seconds.
func NormalizeDate(v any, typ string, known bool) any {
	t, ok := toTime(v)
	if !ok {
		return v
	}
	if !known {
		if _, isTime := v.(time.Time); isTime {
			return t.Unix()
		}
		return v
	}

	format := strings.TrimSpace(strings.SplitN(typ, "||", 2)[0])
	switch format {
	case "date":
		return t.Format(DateLayout)
	case "epoch_second":
		return t.Unix()
	case "epoch_millis":
		return t.UnixMilli()
	case "date_time", "strict_date_time", "date_optional_time", "strict_date_optional_time":
		return t.Format(time.RFC3339)
	}
	if strings.Contains(format, "yyyy") {
		return t.Format(jodaReplacer.Replace(format))
	}
	return t.Unix()
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range parseLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case int:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case float64:
		return time.Unix(int64(t), 0), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.Unix(n, 0), true
		}
	}
	return time.Time{}, false
}
