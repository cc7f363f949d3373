package domain

import (
	"encoding/json"
	"time"
)

// Document is the storage-level envelope persisted by a DocumentStore. Status,
// Ref and SortKey are projected out of the body so backends can index them.
type Document struct {
	ID       string
	Kind     Kind
	Revision string
	// Status is the indexed workflow status; empty for kinds without one.
	Status string
	// Ref is the indexed owning reference (the patient id for encounters).
	Ref string
	// SortKey orders Find results, newest first.
	SortKey time.Time
	Body    json.RawMessage
}

// Clone copies the document including its body bytes.
func (d Document) Clone() Document {
	out := d
	if d.Body != nil {
		out.Body = append(json.RawMessage(nil), d.Body...)
	}
	return out
}

// Query selects documents of one kind with optional equality filters. Results
// are always ordered by SortKey descending, ties broken by ID ascending.
type Query struct {
	Kind   Kind
	Status string
	Ref    string
}

// Matches reports whether doc satisfies the query filters.
func (q Query) Matches(doc Document) bool {
	if doc.Kind != q.Kind {
		return false
	}
	if q.Status != "" && doc.Status != q.Status {
		return false
	}
	if q.Ref != "" && doc.Ref != q.Ref {
		return false
	}
	return true
}

// Less orders a before b under the canonical Find ordering.
func Less(a, b Document) bool {
	if !a.SortKey.Equal(b.SortKey) {
		return a.SortKey.After(b.SortKey)
	}
	return a.ID < b.ID
}

// Mutation describes a committed local write handed to the sync adapter.
type Mutation struct {
	Kind        Kind            `json:"kind"`
	ID          string          `json:"id"`
	Revision    string          `json:"rev"`
	Payload     json.RawMessage `json:"payload"`
	CommittedAt time.Time       `json:"committedAt"`
}
