package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/pkg/domain"
)

// ArchivedRevision is one entry in a record's sync archive.
type ArchivedRevision struct {
	Revision   string    `json:"_rev"`
	Generation int       `json:"generation"`
	Size       int64     `json:"sizeBytes"`
	ETag       string    `json:"etag,omitempty"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Archive reads back what BlobPublisher wrote.
type Archive struct {
	store blob.Store
}

// NewArchive reads from store.
func NewArchive(store blob.Store) *Archive {
	return &Archive{store: store}
}

func archivePrefix(kind domain.Kind, id string) string {
	return fmt.Sprintf("%s/%s/", kind, id)
}

func checkSegment(kind domain.Kind, field, v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return &domain.ValidationError{Kind: kind, ID: v, Field: field, Reason: "must be a single path segment"}
	}
	return nil
}

// History lists archived revisions of one record, oldest generation first.
func (a *Archive) History(ctx context.Context, kind domain.Kind, id string) ([]ArchivedRevision, error) {
	if err := checkSegment(kind, "id", id); err != nil {
		return nil, err
	}
	infos, err := a.store.List(ctx, archivePrefix(kind, id))
	if err != nil {
		return nil, fmt.Errorf("list archive %s %s: %w", kind, id, err)
	}
	out := make([]ArchivedRevision, 0, len(infos))
	for _, info := range infos {
		rev := strings.TrimSuffix(path.Base(info.Key), ".json")
		out = append(out, ArchivedRevision{
			Revision:   rev,
			Generation: domain.RevisionGeneration(rev),
			Size:       info.Size,
			ETag:       info.ETag,
			ArchivedAt: info.LastModified,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

// Has reports whether a revision reached the archive.
func (a *Archive) Has(ctx context.Context, kind domain.Kind, id, rev string) (bool, error) {
	if err := errors.Join(checkSegment(kind, "id", id), checkSegment(kind, "_rev", rev)); err != nil {
		return false, err
	}
	_, err := a.store.Head(ctx, ArchiveKey(domain.Mutation{Kind: kind, ID: id, Revision: rev}))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, blob.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Revision loads one archived mutation envelope.
func (a *Archive) Revision(ctx context.Context, kind domain.Kind, id, rev string) (domain.Mutation, error) {
	if err := errors.Join(checkSegment(kind, "id", id), checkSegment(kind, "_rev", rev)); err != nil {
		return domain.Mutation{}, err
	}
	key := ArchiveKey(domain.Mutation{Kind: kind, ID: id, Revision: rev})
	_, rc, err := a.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Mutation{}, &domain.NotFoundError{Kind: kind, ID: id + "@" + rev}
	}
	if err != nil {
		return domain.Mutation{}, err
	}
	defer func() { _ = rc.Close() }()
	var m domain.Mutation
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return domain.Mutation{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return m, nil
}
