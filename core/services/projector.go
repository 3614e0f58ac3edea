package services

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/deltaq/core/domain"
)

// Project transforms one raw record into the caller-chosen typed
// representation through a JSON round-trip. Pure function of the record;
// absent fields are tolerated and stay zero. Only a shape mismatch (e.g. a
// string where the model declares a bool) is an error.
func Project[T any](rec domain.Record) (T, error) {
	var out T
	data, err := json.Marshal(map[string]any(rec))
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode record into %T: %w", out, err)
	}
	return out, nil
}

// ProjectAll transforms a slice of records, preserving order. The first
// shape mismatch aborts the projection.
func ProjectAll[T any](records []domain.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for i, rec := range records {
		v, err := Project[T](rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
