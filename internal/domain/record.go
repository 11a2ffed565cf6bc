package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ContentRecord is one stored instance of a content type.
//
// Content and Indexer hold either a decoded object (map[string]any) or its
// serialized form (string, []byte, json.RawMessage) depending on the provider.
type ContentRecord struct {
	ID        string    `json:"_id"`
	TenantID  string    `json:"tenantId"`
	Block     string    `json:"block"`
	Content   any       `json:"content"`
	Indexer   any       `json:"indexer"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FlatRecord is the caller-facing merged view of a record.
type FlatRecord map[string]any

// Metadata keys written onto every FlatRecord.
const (
	FieldID        = "_id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Page is a provider response: the requested slice plus the server-side
// count of all matching records.
type Page struct {
	Items []ContentRecord
	Total int
}

// FindResult is returned by the orchestrator's find.
type FindResult struct {
	Items []FlatRecord `json:"items"`
	Total int          `json:"total"`
}

// Operation is the kind of access being requested.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsWrite reports whether op mutates data.
func (op Operation) IsWrite() bool {
	return op != OpRead
}

// DecodeObject returns an envelope as a JSON object. Serialized envelopes
// (string, []byte, json.RawMessage) are parsed, including a string holding
// an encoded string. nil and empty input decode to an empty object.
func DecodeObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case FlatRecord:
		return map[string]any(t), nil
	case json.RawMessage:
		return decodeBytes([]byte(t))
	case []byte:
		return decodeBytes(t)
	case string:
		return decodeBytes([]byte(t))
	}

	// Typed structs and maps go through a JSON round trip.
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return decodeBytes(b)
}

func decodeBytes(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(t), &inner); err != nil {
			return nil, fmt.Errorf("failed to decode envelope: %w", err)
		}
		if inner == nil {
			inner = map[string]any{}
		}
		return inner, nil
	}
	return nil, fmt.Errorf("envelope is %T, not an object", v)
}
