package core

import (
	"clinicflow/pkg/domain"
	"context"
	"sort"
)

// NurseBoard groups every encounter into the nurse station's columns.
// results_ready encounters are shown in the waiting_for_lab column.
type NurseBoard struct {
	WaitingForConsult []domain.Encounter `json:"waiting_for_consult"`
	InConsult         []domain.Encounter `json:"in_consult"`
	WaitingForLab     []domain.Encounter `json:"waiting_for_lab"`
	Admitted          []domain.Encounter `json:"admitted"`
	Pharmacy          []domain.Encounter `json:"pharmacy"`
	Discharged        []domain.Encounter `json:"discharged"`
}

// Total counts the encounters on the board.
func (b NurseBoard) Total() int {
	return len(b.WaitingForConsult) + len(b.InConsult) + len(b.WaitingForLab) +
		len(b.Admitted) + len(b.Pharmacy) + len(b.Discharged)
}

// QueueService serves the read-side station views. Nothing is cached; each
// call re-queries the store.
type QueueService struct {
	svc *Service
}

// NurseBoard returns the six-column board.
func (q *QueueService) NurseBoard(ctx context.Context) (NurseBoard, error) {
	var board NurseBoard
	columns := []struct {
		status domain.EncounterStatus
		dst    *[]domain.Encounter
	}{
		{domain.StatusWaitingForConsult, &board.WaitingForConsult},
		{domain.StatusInConsult, &board.InConsult},
		{domain.StatusWaitingForLab, &board.WaitingForLab},
		{domain.StatusAdmitted, &board.Admitted},
		{domain.StatusPharmacy, &board.Pharmacy},
		{domain.StatusDischarged, &board.Discharged},
	}
	for _, col := range columns {
		list, err := q.byStatus(ctx, col.status)
		if err != nil {
			return NurseBoard{}, err
		}
		*col.dst = list
	}
	ready, err := q.byStatus(ctx, domain.StatusResultsReady)
	if err != nil {
		return NurseBoard{}, err
	}
	board.WaitingForLab = mergeNewestFirst(board.WaitingForLab, ready)
	return board, nil
}

// DoctorQueue lists encounters whose results are ready ahead of those still
// waiting for a first consult; each group is newest first.
func (q *QueueService) DoctorQueue(ctx context.Context) ([]domain.Encounter, error) {
	ready, err := q.byStatus(ctx, domain.StatusResultsReady)
	if err != nil {
		return nil, err
	}
	waiting, err := q.byStatus(ctx, domain.StatusWaitingForConsult)
	if err != nil {
		return nil, err
	}
	return append(ready, waiting...), nil
}

// LabQueue lists encounters awaiting lab work.
func (q *QueueService) LabQueue(ctx context.Context) ([]domain.Encounter, error) {
	return q.byStatus(ctx, domain.StatusWaitingForLab)
}

// PharmacyQueue lists encounters awaiting dispensing.
func (q *QueueService) PharmacyQueue(ctx context.Context) ([]domain.Encounter, error) {
	return q.byStatus(ctx, domain.StatusPharmacy)
}

func (q *QueueService) byStatus(ctx context.Context, status domain.EncounterStatus) ([]domain.Encounter, error) {
	docs, err := q.svc.store.Find(ctx, domain.Query{Kind: domain.KindEncounter, Status: string(status)})
	if err != nil {
		return nil, err
	}
	return decodeEncounters(docs)
}

// mergeNewestFirst combines two lists ordered by CreatedAt descending.
func mergeNewestFirst(a, b []domain.Encounter) []domain.Encounter {
	out := make([]domain.Encounter, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
