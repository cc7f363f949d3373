package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/pkg/domain"
)

// Prefix is the archive folder holding register exports.
const Prefix = "reports/"

const defaultLinkExpiry = 15 * time.Minute

// ErrNoLink is returned by Link when the archive cannot mint direct URLs;
// callers stream the workbook through Open instead.
var ErrNoLink = errors.New("report: archive does not issue download links")

// KeyFor maps a report name such as register-20260302T183000Z.xlsx to its
// archive key. Names are single path segments.
func KeyFor(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", &domain.ValidationError{Kind: "report", ID: name, Field: "name", Reason: "must be a single path segment"}
	}
	return Prefix + name, nil
}

// NameOf is the inverse of KeyFor.
func NameOf(key string) string { return strings.TrimPrefix(key, Prefix) }

// List returns archived exports, newest first.
func (e *Exporter) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := e.archive.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Key > infos[j].Key })
	return infos, nil
}

// Open streams one archived export. The caller closes the reader.
func (e *Exporter) Open(ctx context.Context, name string) (blob.Info, io.ReadCloser, error) {
	key, err := KeyFor(name)
	if err != nil {
		return blob.Info{}, nil, err
	}
	info, rc, err := e.archive.Get(ctx, key)
	if err != nil {
		return blob.Info{}, nil, reportErr(name, err)
	}
	return info, rc, nil
}

// Link returns a time-limited download URL from backends that can sign one.
func (e *Exporter) Link(ctx context.Context, name string, expiry time.Duration) (string, error) {
	key, err := KeyFor(name)
	if err != nil {
		return "", err
	}
	if _, err := e.archive.Head(ctx, key); err != nil {
		return "", reportErr(name, err)
	}
	if expiry <= 0 {
		expiry = defaultLinkExpiry
	}
	url, err := e.archive.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
	if errors.Is(err, blob.ErrUnsupported) {
		return "", ErrNoLink
	}
	if err != nil {
		return "", fmt.Errorf("sign report %s: %w", name, err)
	}
	return url, nil
}

// Prune deletes all but the newest keep exports and returns the removed keys.
func (e *Exporter) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, &domain.ValidationError{Kind: "report", Field: "keep", Reason: "must not be negative"}
	}
	infos, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}
	var removed []string
	for _, info := range infos[keep:] {
		ok, err := e.archive.Delete(ctx, info.Key)
		if err != nil {
			return removed, fmt.Errorf("delete report %s: %w", info.Key, err)
		}
		if ok {
			removed = append(removed, info.Key)
		}
	}
	e.logger.Info().Int("kept", keep).Strs("removed", removed).Msg("register exports pruned")
	return removed, nil
}

func reportErr(name string, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		return &domain.NotFoundError{Kind: "report", ID: name}
	}
	return fmt.Errorf("report %s: %w", name, err)
}
