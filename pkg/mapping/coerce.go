package mapping

import (
	"strconv"
	"strings"
	"time"

	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/schema"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"15:04:05",
	"2006",
}

// Coerce converts a raw column value according to the column kind. Empty
// temporal, decimal and integer values become nil; values that cannot be
// converted are returned unchanged.
func Coerce(kind schema.ColumnKind, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch kind {
	case schema.KindTemporal:
		return toTime(v)
	case schema.KindDecimal:
		return toFloat(v)
	case schema.KindInteger:
		if isEmpty(v) {
			return nil
		}
		if i, ok := entity.ToInt64(v); ok {
			return i
		}
		return v
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toTime(v any) any {
	if isEmpty(v) {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return t
	case string:
		if strings.HasPrefix(t, "0000-00-00") {
			return nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
		return t
	case int64:
		// YEAR columns come back as integers
		return time.Date(int(t), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return v
}

func toFloat(v any) any {
	if isEmpty(v) {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
		return n
	}
	if i, ok := entity.ToInt64(v); ok {
		return float64(i)
	}
	return v
}
