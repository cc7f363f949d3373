package core

import (
	"clinicflow/pkg/domain"
	"encoding/json"
	"fmt"
	"time"
)

// patientDocument projects a patient into its storage envelope. The body never
// carries the revision; the envelope owns it.
func patientDocument(p domain.Patient) (domain.Document, error) {
	rev := p.Revision
	p.Revision = ""
	body, err := json.Marshal(p)
	if err != nil {
		return domain.Document{}, fmt.Errorf("encode patient %s: %w", p.ID, err)
	}
	return domain.Document{
		ID:       p.ID,
		Kind:     domain.KindPatient,
		Revision: rev,
		SortKey:  p.RegisteredAt,
		Body:     body,
	}, nil
}

func decodePatient(doc domain.Document) (domain.Patient, error) {
	if doc.Kind != domain.KindPatient {
		return domain.Patient{}, &domain.NotFoundError{Kind: domain.KindPatient, ID: doc.ID}
	}
	var p domain.Patient
	if err := json.Unmarshal(doc.Body, &p); err != nil {
		return domain.Patient{}, fmt.Errorf("decode patient %s: %w", doc.ID, err)
	}
	p.ID = doc.ID
	p.Revision = doc.Revision
	return p, nil
}

func encounterDocument(e domain.Encounter) (domain.Document, error) {
	rev := e.Revision
	e.Revision = ""
	body, err := json.Marshal(e)
	if err != nil {
		return domain.Document{}, fmt.Errorf("encode encounter %s: %w", e.ID, err)
	}
	return domain.Document{
		ID:       e.ID,
		Kind:     domain.KindEncounter,
		Revision: rev,
		Status:   string(e.Status),
		Ref:      e.PatientID,
		SortKey:  e.CreatedAt,
		Body:     body,
	}, nil
}

func decodeEncounter(doc domain.Document) (domain.Encounter, error) {
	if doc.Kind != domain.KindEncounter {
		return domain.Encounter{}, &domain.NotFoundError{Kind: domain.KindEncounter, ID: doc.ID}
	}
	var e domain.Encounter
	if err := json.Unmarshal(doc.Body, &e); err != nil {
		return domain.Encounter{}, fmt.Errorf("decode encounter %s: %w", doc.ID, err)
	}
	e.ID = doc.ID
	e.Revision = doc.Revision
	return e, nil
}

func decodeEncounters(docs []domain.Document) ([]domain.Encounter, error) {
	out := make([]domain.Encounter, 0, len(docs))
	for _, doc := range docs {
		e, err := decodeEncounter(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// mutationFor builds the sync envelope for a committed record. The payload is
// the wire form of the record including its new revision.
func mutationFor(kind domain.Kind, id, rev string, record any, at time.Time) (domain.Mutation, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("encode %s %s mutation: %w", kind, id, err)
	}
	return domain.Mutation{Kind: kind, ID: id, Revision: rev, Payload: payload, CommittedAt: at}, nil
}
