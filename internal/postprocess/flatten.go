// Package postprocess turns stored records into the flat objects callers see.
package postprocess

import (
	"fmt"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/schema"
)

// Flatten merges a record's indexer and content envelopes into one object.
//
// Precedence, lowest first: schema defaults, indexer, content, metadata
// (_id, createdAt, updatedAt). Serialized envelopes are parsed. The result
// depends only on the arguments.
func Flatten(rec domain.ContentRecord, def *domain.ContentDefinition) (domain.FlatRecord, error) {
	return flatten(rec, defaultsOf(def))
}

// FlattenAll flattens a page, reading the schema defaults once.
func FlattenAll(recs []domain.ContentRecord, def *domain.ContentDefinition) ([]domain.FlatRecord, error) {
	defaults := defaultsOf(def)

	out := make([]domain.FlatRecord, 0, len(recs))
	for _, rec := range recs {
		flat, err := flatten(rec, defaults)
		if err != nil {
			return nil, err
		}
		out = append(out, flat)
	}
	return out, nil
}

func flatten(rec domain.ContentRecord, defaults map[string]any) (domain.FlatRecord, error) {
	content, err := domain.DecodeObject(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("record %s: failed to parse content: %w", rec.ID, err)
	}
	indexer, err := domain.DecodeObject(rec.Indexer)
	if err != nil {
		return nil, fmt.Errorf("record %s: failed to parse indexer: %w", rec.ID, err)
	}

	flat := make(domain.FlatRecord, len(defaults)+len(indexer)+len(content)+3)
	for k, v := range defaults {
		flat[k] = clone(v)
	}
	for k, v := range indexer {
		flat[k] = v
	}
	for k, v := range content {
		flat[k] = v
	}

	flat[domain.FieldID] = rec.ID
	flat[domain.FieldCreatedAt] = rec.CreatedAt
	flat[domain.FieldUpdatedAt] = rec.UpdatedAt
	return flat, nil
}

func defaultsOf(def *domain.ContentDefinition) map[string]any {
	if def == nil || len(def.JSONSchema) == 0 {
		return nil
	}
	doc, err := schema.Parse(def.JSONSchema)
	if err != nil {
		return nil
	}
	return doc.Defaults()
}

// clone copies composite defaults so callers cannot mutate shared values.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = clone(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = clone(inner)
		}
		return out
	}
	return v
}
