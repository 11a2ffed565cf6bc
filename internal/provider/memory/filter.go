package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/dyncontent/internal/domain"
)

func match(sr *storedRecord, f domain.Filter) bool {
	switch n := f.(type) {
	case domain.And:
		for _, c := range n {
			if !match(sr, c) {
				return false
			}
		}
		return true
	case domain.Or:
		for _, c := range n {
			if match(sr, c) {
				return true
			}
		}
		return false
	case domain.Condition:
		v, ok := sr.field(n.Field)
		if !ok {
			// eq null matches absent and null keys, as IS NULL does.
			return n.Op == domain.OpEq && n.Value == nil
		}
		return compareOp(v, n.Op, n.Value)
	}
	return false
}

func (sr *storedRecord) field(name string) (any, bool) {
	switch name {
	case domain.FieldID:
		return sr.rec.ID, true
	case domain.FieldCreatedAt:
		return sr.rec.CreatedAt, true
	case domain.FieldUpdatedAt:
		return sr.rec.UpdatedAt, true
	}
	if key, ok := domain.SplitIndexerField(name); ok {
		v, ok := sr.indexer[key]
		return v, ok && v != nil
	}
	return nil, false
}

func compareOp(v any, op domain.CompareOp, want any) bool {
	if op == domain.OpIn {
		list, ok := want.([]any)
		if !ok {
			return false
		}
		for _, w := range list {
			if c, ok := compare(v, w); ok && c == 0 {
				return true
			}
		}
		return false
	}

	c, ok := compare(v, want)
	if !ok {
		return false
	}
	switch op {
	case domain.OpEq:
		return c == 0
	case domain.OpGt:
		return c > 0
	case domain.OpGte:
		return c >= 0
	case domain.OpLt:
		return c < 0
	case domain.OpLte:
		return c <= 0
	}
	return false
}

// compare orders two scalar values. ok is false when the kinds differ.
func compare(a, b any) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}

	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(at, bs), true
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case at == bb:
			return 0, true
		case !at:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

// less orders records by the sort keys. Missing values sort last in
// ascending order, like NULLs in postgres.
func less(a, b *storedRecord, keys []domain.SortField) bool {
	for _, k := range keys {
		av, aok := a.field(k.Field)
		bv, bok := b.field(k.Field)

		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = 1
		case !bok:
			c = -1
		default:
			var ok bool
			c, ok = compare(av, bv)
			if !ok {
				c = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
			}
		}

		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}
