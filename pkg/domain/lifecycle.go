package domain

// EncounterStatus enumerates the workflow states an encounter moves through.
type EncounterStatus string

// Canonical encounter statuses.
const (
	StatusWaitingForConsult EncounterStatus = "waiting_for_consult"
	StatusInConsult         EncounterStatus = "in_consult"
	StatusWaitingForLab     EncounterStatus = "waiting_for_lab"
	StatusResultsReady      EncounterStatus = "results_ready"
	StatusAdmitted          EncounterStatus = "admitted"
	StatusPharmacy          EncounterStatus = "pharmacy"
	// StatusDischarged is terminal; discharged encounters are retained for history.
	StatusDischarged EncounterStatus = "discharged"
)

// encounterTransitions is the single authoritative edge list for the
// encounter workflow. Every mutation entry point consults it.
var encounterTransitions = map[EncounterStatus][]EncounterStatus{
	StatusWaitingForConsult: {StatusInConsult, StatusWaitingForLab},
	StatusInConsult:         {StatusWaitingForLab},
	StatusWaitingForLab:     {StatusResultsReady},
	StatusResultsReady:      {StatusAdmitted, StatusPharmacy, StatusDischarged},
	StatusAdmitted:          {StatusPharmacy, StatusDischarged},
	StatusPharmacy:          {StatusDischarged},
	StatusDischarged:        nil,
}

// EncounterStatuses lists every status in workflow order.
func EncounterStatuses() []EncounterStatus {
	return []EncounterStatus{
		StatusWaitingForConsult,
		StatusInConsult,
		StatusWaitingForLab,
		StatusResultsReady,
		StatusAdmitted,
		StatusPharmacy,
		StatusDischarged,
	}
}

// Valid reports whether s is a known status.
func (s EncounterStatus) Valid() bool {
	_, ok := encounterTransitions[s]
	return ok
}

// Terminal reports whether no edge leaves s.
func (s EncounterStatus) Terminal() bool {
	next, ok := encounterTransitions[s]
	return ok && len(next) == 0
}

// Successors returns the statuses reachable from s in one step.
func (s EncounterStatus) Successors() []EncounterStatus {
	return append([]EncounterStatus(nil), encounterTransitions[s]...)
}

// CanTransition reports whether the workflow permits moving from one status to
// another in a single step.
func CanTransition(from, to EncounterStatus) bool {
	for _, next := range encounterTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
