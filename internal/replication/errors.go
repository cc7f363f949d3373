package replication

import (
	"errors"
	"fmt"

	"clinicflow/pkg/domain"
)

// ErrSyncFailed matches every *SyncError.
var ErrSyncFailed = errors.New("sync failed")

// SyncError describes a publish that did not reach the remote. It is only
// ever logged and handed to WithErrorHandler; local writes never see it.
type SyncError struct {
	Publisher string
	Kind      domain.Kind
	ID        string
	Revision  string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s@%s via %s: %v", e.Kind, e.ID, e.Revision, e.Publisher, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches ErrSyncFailed.
func (e *SyncError) Is(target error) bool { return target == ErrSyncFailed }
