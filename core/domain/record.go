package domain

// removedKey is the annotation the remote places on removed records.
const removedKey = "@removed"

// Record is one changed, created or deleted entity returned by the remote
// system: a mapping of field name to value plus an optional removal marker.
// It is the connector's output before projection.
type Record map[string]any

// ID returns the record's identifier, or empty string if absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// RemovedReason returns the removal reason ("deleted" for permanent removal,
// "changed" for soft deletion) and true if the record carries a removal
// marker.
func (r Record) RemovedReason() (string, bool) {
	marker, ok := r[removedKey].(map[string]any)
	if !ok {
		return "", false
	}
	reason, _ := marker["reason"].(string)
	if reason == "" {
		reason = "unknown"
	}
	return reason, true
}

// ChangeType classifies how a record changed.
func (r Record) ChangeType() ChangeType {
	reason, removed := r.RemovedReason()
	if !removed {
		return ChangeNewOrUpdated
	}
	if reason == "deleted" {
		return ChangeDeleted
	}
	return ChangeChanged
}

// ChangeType represents the kind of change a delta record describes.
type ChangeType int

const (
	// ChangeNewOrUpdated indicates a created or modified entity
	// (no removal marker).
	ChangeNewOrUpdated ChangeType = iota

	// ChangeDeleted indicates a permanently deleted entity.
	ChangeDeleted

	// ChangeChanged indicates a soft-deleted entity (removal marker with
	// reason "changed").
	ChangeChanged
)

// String returns a human-readable name for the change type.
func (t ChangeType) String() string {
	switch t {
	case ChangeDeleted:
		return "deleted"
	case ChangeChanged:
		return "changed"
	default:
		return "new_or_updated"
	}
}
