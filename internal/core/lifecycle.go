package core

import (
	"clinicflow/pkg/domain"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Intake carries what the nurse station captures when opening an encounter.
type Intake struct {
	Vitals        *domain.Vitals
	Transcription string
}

// Confirmation is the post-lab decision applied when an encounter leaves
// results_ready.
type Confirmation struct {
	FinalDiagnosis []domain.Diagnosis
	Analysis       string
	Prescriptions  []domain.Prescription
}

// EncounterEngine applies workflow transitions to encounters. Every mutation
// is a read-modify-write against the store; callers may pin the revision they
// based their change on, and a stale revision surfaces as a conflict.
type EncounterEngine struct {
	svc *Service
}

// CreateEncounter opens a visit for an existing patient in waiting_for_consult.
func (e *EncounterEngine) CreateEncounter(ctx context.Context, patientID string, intake Intake) (domain.Encounter, error) {
	patientID = strings.TrimSpace(patientID)
	id := uuid.NewString()
	if patientID == "" {
		return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "patientId", Reason: "required"}
	}
	if _, err := e.svc.Patients.Get(ctx, patientID); err != nil {
		if isNotFound(err) {
			return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "patientId", Reason: fmt.Sprintf("patient %s does not exist", patientID)}
		}
		return domain.Encounter{}, err
	}
	now := e.svc.now()
	enc := domain.Encounter{
		ID:            id,
		PatientID:     patientID,
		Status:        domain.StatusWaitingForConsult,
		Transcription: strings.TrimSpace(intake.Transcription),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if intake.Vitals != nil && !intake.Vitals.IsZero() {
		v := *intake.Vitals
		enc.Vitals = &v
	}
	saved, err := e.save(ctx, enc)
	if err != nil {
		return domain.Encounter{}, err
	}
	e.svc.opts.logger.Info().Str("encounter_id", saved.ID).Str("patient_id", patientID).Msg("encounter opened")
	return saved, nil
}

// StartConsult moves a waiting encounter into consultation.
func (e *EncounterEngine) StartConsult(ctx context.Context, id, rev string) (domain.Encounter, error) {
	return e.transition(ctx, id, rev, domain.StatusInConsult, nil)
}

// AdvanceToLab records the requested tests and queues the encounter for the lab.
func (e *EncounterEngine) AdvanceToLab(ctx context.Context, id, rev string, tests []string) (domain.Encounter, error) {
	labs := compact(tests)
	if len(labs) == 0 {
		return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "labs", Reason: "at least one test is required"}
	}
	return e.transition(ctx, id, rev, domain.StatusWaitingForLab, func(enc *domain.Encounter) error {
		enc.Labs = labs
		return nil
	})
}

// RecordLabResults stores results and marks the encounter ready for review.
func (e *EncounterEngine) RecordLabResults(ctx context.Context, id, rev string, results map[string]string) (domain.Encounter, error) {
	clean := make(map[string]string, len(results))
	for test, result := range results {
		test = strings.TrimSpace(test)
		if test == "" {
			continue
		}
		clean[test] = strings.TrimSpace(result)
	}
	if len(clean) == 0 {
		return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "labResults", Reason: "at least one result is required"}
	}
	return e.transition(ctx, id, rev, domain.StatusResultsReady, func(enc *domain.Encounter) error {
		enc.LabResults = clean
		return nil
	})
}

// RecordDiagnosis stores symptoms and the initial differential without
// changing status. Discharged encounters are read-only.
func (e *EncounterEngine) RecordDiagnosis(ctx context.Context, id, rev, symptoms string, diagnoses []domain.Diagnosis) (domain.Encounter, error) {
	if err := validateDiagnoses(id, "initialDiagnosis", diagnoses); err != nil {
		return domain.Encounter{}, err
	}
	return e.update(ctx, id, rev, func(enc *domain.Encounter) error {
		if enc.Status.Terminal() {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "status", Reason: "discharged encounters cannot be modified"}
		}
		enc.Symptoms = strings.TrimSpace(symptoms)
		enc.InitialDiagnosis = append([]domain.Diagnosis(nil), diagnoses...)
		return nil
	})
}

// Admit confirms the diagnosis and admits the patient.
func (e *EncounterEngine) Admit(ctx context.Context, id, rev string, c Confirmation) (domain.Encounter, error) {
	if err := validateDiagnoses(id, "finalDiagnosis", c.FinalDiagnosis); err != nil {
		return domain.Encounter{}, err
	}
	return e.transition(ctx, id, rev, domain.StatusAdmitted, func(enc *domain.Encounter) error {
		applyConfirmation(enc, c)
		at := e.svc.now()
		enc.AdmittedAt = &at
		return nil
	})
}

// SendToPharmacy confirms the diagnosis and hands the prescriptions to the
// pharmacy station.
func (e *EncounterEngine) SendToPharmacy(ctx context.Context, id, rev string, c Confirmation) (domain.Encounter, error) {
	if err := validateDiagnoses(id, "finalDiagnosis", c.FinalDiagnosis); err != nil {
		return domain.Encounter{}, err
	}
	if err := validatePrescriptions(id, c.Prescriptions); err != nil {
		return domain.Encounter{}, err
	}
	return e.transition(ctx, id, rev, domain.StatusPharmacy, func(enc *domain.Encounter) error {
		applyConfirmation(enc, c)
		return nil
	})
}

// Discharge closes the encounter. The confirmation is optional when leaving
// admitted or pharmacy; fields left empty keep their recorded values.
func (e *EncounterEngine) Discharge(ctx context.Context, id, rev string, c Confirmation) (domain.Encounter, error) {
	if err := validateDiagnoses(id, "finalDiagnosis", c.FinalDiagnosis); err != nil {
		return domain.Encounter{}, err
	}
	return e.transition(ctx, id, rev, domain.StatusDischarged, func(enc *domain.Encounter) error {
		applyConfirmation(enc, c)
		at := e.svc.now()
		enc.DischargedAt = &at
		return nil
	})
}

// RecordDispensing stamps prescriptions as dispensed. Entries are matched by
// drug id, then by generic name; unmatched entries are appended.
func (e *EncounterEngine) RecordDispensing(ctx context.Context, id, rev string, dispensed []domain.Prescription) (domain.Encounter, error) {
	if err := validatePrescriptions(id, dispensed); err != nil {
		return domain.Encounter{}, err
	}
	return e.update(ctx, id, rev, func(enc *domain.Encounter) error {
		if enc.Status != domain.StatusPharmacy {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "status", Reason: fmt.Sprintf("dispensing requires %s, encounter is %s", domain.StatusPharmacy, enc.Status)}
		}
		at := e.svc.now()
		for _, p := range dispensed {
			p.DispensedAt = &at
			if i := findPrescription(enc.Prescriptions, p); i >= 0 {
				merged := enc.Prescriptions[i]
				merged.DispensedAt = &at
				if p.Dosage != "" {
					merged.Dosage = p.Dosage
				}
				if p.Quantity > 0 {
					merged.Quantity = p.Quantity
				}
				if p.Notes != "" {
					merged.Notes = p.Notes
				}
				enc.Prescriptions[i] = merged
				continue
			}
			enc.Prescriptions = append(enc.Prescriptions, p)
		}
		return nil
	})
}

// Override forces a status outside the transition table. It still cannot
// leave the terminal state.
func (e *EncounterEngine) Override(ctx context.Context, id, rev string, to domain.EncounterStatus, reason string) (domain.Encounter, error) {
	reason = strings.TrimSpace(reason)
	if !to.Valid() {
		return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if reason == "" {
		return domain.Encounter{}, &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "reason", Reason: "required for an override"}
	}
	var from domain.EncounterStatus
	enc, err := e.update(ctx, id, rev, func(enc *domain.Encounter) error {
		from = enc.Status
		if from.Terminal() && to != from {
			return domain.TransitionError(id, from, to)
		}
		enc.Status = to
		at := e.svc.now()
		if to == domain.StatusAdmitted && enc.AdmittedAt == nil {
			enc.AdmittedAt = &at
		}
		if to == domain.StatusDischarged && enc.DischargedAt == nil {
			enc.DischargedAt = &at
		}
		return nil
	})
	if err != nil {
		return domain.Encounter{}, err
	}
	e.svc.opts.metrics.ObserveTransition(from, to)
	e.svc.opts.logger.Warn().
		Str("encounter_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("encounter status overridden")
	return enc, nil
}

// Get returns an encounter by id.
func (e *EncounterEngine) Get(ctx context.Context, id string) (domain.Encounter, error) {
	doc, err := e.svc.store.Get(ctx, id)
	if err != nil {
		return domain.Encounter{}, notFoundAs(err, domain.KindEncounter, id)
	}
	return decodeEncounter(doc)
}

// List returns encounters in status, newest first. An empty status lists all.
func (e *EncounterEngine) List(ctx context.Context, status domain.EncounterStatus) ([]domain.Encounter, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Kind: domain.KindEncounter, Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	docs, err := e.svc.store.Find(ctx, domain.Query{Kind: domain.KindEncounter, Status: string(status)})
	if err != nil {
		return nil, err
	}
	return decodeEncounters(docs)
}

// ListForPatient returns a patient's encounters, newest first.
func (e *EncounterEngine) ListForPatient(ctx context.Context, patientID string) ([]domain.Encounter, error) {
	if _, err := e.svc.Patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	docs, err := e.svc.store.Find(ctx, domain.Query{Kind: domain.KindEncounter, Ref: patientID})
	if err != nil {
		return nil, err
	}
	return decodeEncounters(docs)
}

// transition moves an encounter along one edge of the transition table.
func (e *EncounterEngine) transition(ctx context.Context, id, rev string, to domain.EncounterStatus, patch func(*domain.Encounter) error) (domain.Encounter, error) {
	var from domain.EncounterStatus
	enc, err := e.update(ctx, id, rev, func(enc *domain.Encounter) error {
		from = enc.Status
		if !domain.CanTransition(from, to) {
			return domain.TransitionError(id, from, to)
		}
		if patch != nil {
			if err := patch(enc); err != nil {
				return err
			}
		}
		enc.Status = to
		return nil
	})
	if err != nil {
		return domain.Encounter{}, err
	}
	e.svc.opts.metrics.ObserveTransition(from, to)
	e.svc.opts.logger.Info().
		Str("encounter_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("encounter transitioned")
	return enc, nil
}

// update reads the encounter, checks the pinned revision, applies fn to a copy
// and writes it back marked unsynced.
func (e *EncounterEngine) update(ctx context.Context, id, rev string, fn func(*domain.Encounter) error) (domain.Encounter, error) {
	current, err := e.Get(ctx, id)
	if err != nil {
		return domain.Encounter{}, err
	}
	if rev != "" && rev != current.Revision {
		return domain.Encounter{}, &domain.ConflictError{ID: id, Expected: rev, Current: current.Revision}
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return domain.Encounter{}, err
	}
	next.ID = current.ID
	next.PatientID = current.PatientID
	next.CreatedAt = current.CreatedAt
	next.Revision = current.Revision
	next.Synced = false
	next.UpdatedAt = e.svc.now()
	return e.save(ctx, next)
}

func (e *EncounterEngine) save(ctx context.Context, enc domain.Encounter) (domain.Encounter, error) {
	doc, err := encounterDocument(enc)
	if err != nil {
		return domain.Encounter{}, err
	}
	saved, err := e.svc.commit(ctx, doc, func(rev string) any {
		out := enc.Clone()
		out.Revision = rev
		return out
	})
	if err != nil {
		return domain.Encounter{}, err
	}
	enc.Revision = saved.Revision
	return enc, nil
}

func applyConfirmation(enc *domain.Encounter, c Confirmation) {
	if len(c.FinalDiagnosis) > 0 {
		enc.FinalDiagnosis = append([]domain.Diagnosis(nil), c.FinalDiagnosis...)
	}
	if a := strings.TrimSpace(c.Analysis); a != "" {
		enc.FinalAnalysis = a
	}
	if len(c.Prescriptions) > 0 {
		enc.Prescriptions = append([]domain.Prescription(nil), c.Prescriptions...)
	}
}

func validateDiagnoses(id, field string, diagnoses []domain.Diagnosis) error {
	for i, d := range diagnoses {
		if strings.TrimSpace(d.Condition) == "" {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: fmt.Sprintf("%s[%d].condition", field, i), Reason: "required"}
		}
		if !(d.Probability >= 0 && d.Probability <= 1) {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: fmt.Sprintf("%s[%d].probability", field, i), Reason: "must be within [0,1]"}
		}
	}
	return nil
}

func validatePrescriptions(id string, prescriptions []domain.Prescription) error {
	if len(prescriptions) == 0 {
		return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: "prescriptions", Reason: "at least one prescription is required"}
	}
	for i, p := range prescriptions {
		if strings.TrimSpace(p.GenericName) == "" && strings.TrimSpace(p.DrugID) == "" {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: fmt.Sprintf("prescriptions[%d]", i), Reason: "drug id or generic name required"}
		}
		if p.Quantity < 0 {
			return &domain.ValidationError{Kind: domain.KindEncounter, ID: id, Field: fmt.Sprintf("prescriptions[%d].quantity", i), Reason: "must be non-negative"}
		}
	}
	return nil
}

func findPrescription(list []domain.Prescription, p domain.Prescription) int {
	for i, existing := range list {
		if p.DrugID != "" && existing.DrugID == p.DrugID {
			return i
		}
	}
	for i, existing := range list {
		if p.GenericName != "" && strings.EqualFold(existing.GenericName, p.GenericName) {
			return i
		}
	}
	return -1
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
