package core

import (
	"clinicflow/pkg/domain"
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PatientRegistry is the typed accessor for patient documents.
type PatientRegistry struct {
	svc *Service
}

// Register validates and persists a new patient. An empty ID is assigned a
// fresh UUID; RegisteredAt defaults to the service clock.
func (r *PatientRegistry) Register(ctx context.Context, p domain.Patient) (domain.Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	switch {
	case p.Name == "":
		return domain.Patient{}, &domain.ValidationError{Kind: domain.KindPatient, ID: p.ID, Field: "name", Reason: "required"}
	case p.Age < 0:
		return domain.Patient{}, &domain.ValidationError{Kind: domain.KindPatient, ID: p.ID, Field: "age", Reason: "must be non-negative"}
	case !p.Sex.Valid():
		return domain.Patient{}, &domain.ValidationError{Kind: domain.KindPatient, ID: p.ID, Field: "sex", Reason: "must be male or female"}
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = r.svc.now()
	}
	p.Revision = ""

	doc, err := patientDocument(p)
	if err != nil {
		return domain.Patient{}, err
	}
	saved, err := r.svc.commit(ctx, doc, func(rev string) any {
		p.Revision = rev
		return p
	})
	if err != nil {
		return domain.Patient{}, err
	}
	p.Revision = saved.Revision
	r.svc.opts.logger.Info().Str("patient_id", p.ID).Msg("patient registered")
	return p, nil
}

// Get returns a patient by id.
func (r *PatientRegistry) Get(ctx context.Context, id string) (domain.Patient, error) {
	doc, err := r.svc.store.Get(ctx, id)
	if err != nil {
		return domain.Patient{}, notFoundAs(err, domain.KindPatient, id)
	}
	return decodePatient(doc)
}

// List returns every patient, most recently registered first.
func (r *PatientRegistry) List(ctx context.Context) ([]domain.Patient, error) {
	docs, err := r.svc.store.Find(ctx, domain.Query{Kind: domain.KindPatient})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Patient, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePatient(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// notFoundAs tags a store-level not-found with the kind the caller asked for.
func notFoundAs(err error, kind domain.Kind, id string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}
