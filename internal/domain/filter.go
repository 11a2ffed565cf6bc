package domain

import "strings"

// CompareOp is a leaf comparison in the filter tree.
type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpIn  CompareOp = "in"
)

// Valid reports whether op is supported.
func (op CompareOp) Valid() bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	}
	return false
}

// Filter is a node of the filter tree: And, Or or Condition.
type Filter interface {
	filterNode()
}

// And matches when every child matches.
type And []Filter

// Or matches when any child matches.
type Or []Filter

// Condition compares one field against a value. Field is either a metadata
// column (_id, createdAt, updatedAt) or "indexer.<name>".
type Condition struct {
	Field string
	Op    CompareOp
	Value any
}

func (And) filterNode()       {}
func (Or) filterNode()        {}
func (Condition) filterNode() {}

const indexerPrefix = "indexer."

// IndexerField returns the canonical field reference for an indexer name.
func IndexerField(name string) string {
	return indexerPrefix + name
}

// SplitIndexerField returns the indexer name of a canonical field reference.
func SplitIndexerField(field string) (string, bool) {
	if !strings.HasPrefix(field, indexerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(field, indexerPrefix), true
}

// IsMetadataField reports whether field addresses a record column.
func IsMetadataField(field string) bool {
	switch field {
	case FieldID, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

// SortField orders results by one field.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is the caller-facing find request.
type Query struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   []SortField    `json:"sort,omitempty"`
	Limit  int            `json:"limit,omitempty" validate:"omitempty,min=1"`
	Offset int            `json:"offset,omitempty" validate:"omitempty,min=0"`
}
