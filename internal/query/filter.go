package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Rrens/dyncontent/internal/domain"
)

const maxFilterDepth = 16

// FieldResolver maps a caller field name onto a canonical field reference.
type FieldResolver func(name string) (string, error)

// IndexedFields resolves metadata columns and the indexer fields of def.
// A bare name and "indexer.<name>" address the same indexer field.
func IndexedFields(def *domain.ContentDefinition) FieldResolver {
	return func(name string) (string, error) {
		if domain.IsMetadataField(name) {
			return name, nil
		}
		if reserved(name) {
			return "", fmt.Errorf("field %s is reserved", name)
		}
		key := name
		if k, ok := domain.SplitIndexerField(name); ok {
			key = k
		}
		if !def.HasIndexerField(key) {
			return "", fmt.Errorf("field %s is not an indexer field of %s", name, def.Block)
		}
		return domain.IndexerField(key), nil
	}
}

// MetadataFields resolves record columns only.
func MetadataFields(name string) (string, error) {
	if domain.IsMetadataField(name) {
		return name, nil
	}
	return "", fmt.Errorf("field %s is not a metadata field", name)
}

func reserved(name string) bool {
	switch strings.ToLower(name) {
	case "tenantid", "tenant_id", "block":
		return true
	}
	return false
}

// ParseFilter turns the caller's filter document into a filter tree.
//
// Leaves are {field: {op: value}}; a bare value is shorthand for eq and a
// bare list for in. AND and OR (also $and, $or, any case) take a list of
// sub-documents. Sibling keys are combined with AND. A nil or empty document
// yields a nil filter.
func ParseFilter(doc map[string]any, resolve FieldResolver) (domain.Filter, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	return parseDoc(doc, resolve, 0)
}

func parseDoc(doc map[string]any, resolve FieldResolver, depth int) (domain.Filter, error) {
	if depth > maxFilterDepth {
		return nil, fmt.Errorf("filter nests deeper than %d levels", maxFilterDepth)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make(domain.And, 0, len(keys))
	for _, key := range keys {
		switch strings.ToLower(strings.TrimPrefix(key, "$")) {
		case "and", "or":
			children, err := parseList(key, doc[key], resolve, depth)
			if err != nil {
				return nil, err
			}
			if strings.EqualFold(strings.TrimPrefix(key, "$"), "or") {
				parts = append(parts, domain.Or(children))
			} else {
				parts = append(parts, domain.And(children))
			}
		default:
			leaf, err := parseField(key, doc[key], resolve)
			if err != nil {
				return nil, err
			}
			parts = append(parts, leaf...)
		}
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

func parseList(key string, v any, resolve FieldResolver, depth int) ([]domain.Filter, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s expects a list of filters", key)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s expects at least one filter", key)
	}

	out := make([]domain.Filter, 0, len(list))
	for i, item := range list {
		sub, ok := item.(map[string]any)
		if !ok || len(sub) == 0 {
			return nil, fmt.Errorf("%s[%d] must be a non-empty filter object", key, i)
		}
		f, err := parseDoc(sub, resolve, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseField(name string, v any, resolve FieldResolver) ([]domain.Filter, error) {
	field, err := resolve(name)
	if err != nil {
		return nil, err
	}

	ops, ok := v.(map[string]any)
	if !ok {
		if list, isList := v.([]any); isList {
			return leaf(field, domain.OpIn, list)
		}
		return leaf(field, domain.OpEq, v)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("field %s has no operator", name)
	}

	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []domain.Filter
	for _, opName := range names {
		op := domain.CompareOp(strings.ToLower(strings.TrimPrefix(opName, "$")))
		if !op.Valid() {
			return nil, fmt.Errorf("unsupported operator %q on field %s", opName, name)
		}
		conds, err := leaf(field, op, ops[opName])
		if err != nil {
			return nil, err
		}
		out = append(out, conds...)
	}
	return out, nil
}

func leaf(field string, op domain.CompareOp, v any) ([]domain.Filter, error) {
	if op == domain.OpIn {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("operator in on %s expects a list", field)
		}
		vals := make([]any, 0, len(list))
		for _, item := range list {
			if !scalar(item) || item == nil {
				return nil, fmt.Errorf("operator in on %s expects scalar values", field)
			}
			vals = append(vals, normalize(item))
		}
		return []domain.Filter{domain.Condition{Field: field, Op: op, Value: vals}}, nil
	}

	if !scalar(v) {
		return nil, fmt.Errorf("operator %s on %s expects a scalar value", op, field)
	}
	if v == nil && op != domain.OpEq {
		return nil, fmt.Errorf("operator %s on %s cannot compare with null", op, field)
	}
	return []domain.Filter{domain.Condition{Field: field, Op: op, Value: normalize(v)}}, nil
}

func scalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64:
		return true
	}
	return false
}

// normalize widens integers to float64 so providers see JSON numbers.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
