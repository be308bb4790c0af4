// Package registry keeps ephemeral upload sessions and expires them after
// their TTL.
//
// Three backends share the Registry contract: an in-process map for single
// instance deployments and Postgres or Redis when several replicas must see
// the same sessions. "Not found" is never an error: lookups report it with a
// boolean so callers decide what absence means for their attempt. A session
// whose TTL elapsed is invisible to reads even before it is claimed.
package registry

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

// Registry stores upload sessions keyed by upload id.
type Registry interface {
	// Create stores a new session. A duplicate id yields common.ErrAlreadyExists.
	Create(ctx context.Context, s *models.UploadSession) error
	// Get returns a copy of the session, or false when it is absent or expired.
	Get(ctx context.Context, id string) (*models.UploadSession, bool, error)
	// AttachExternalInfo sets the store identifiers once and moves the
	// session to awaiting_parts. It reports false when the session is
	// absent, expired, or already attached.
	AttachExternalInfo(ctx context.Context, id, externalUploadID, externalKey string) (bool, error)
	// TransitionState moves the session from one state to another only if
	// it is currently in from.
	TransitionState(ctx context.Context, id string, from, to models.State) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]string, error)
	// ScheduleExpiry (re)arms the session's TTL. Absent ids are ignored.
	ScheduleExpiry(ctx context.Context, id string, ttl time.Duration) error
	// CancelExpiryTimer disarms the TTL. Absent ids are ignored.
	CancelExpiryTimer(ctx context.Context, id string) error
	// ClaimExpired removes and returns up to limit expirable sessions whose
	// TTL elapsed at now. Each session is returned by exactly one call,
	// whatever the number of concurrent callers.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error)
}

// ExpiryHandler receives sessions removed because their TTL elapsed.
type ExpiryHandler func(ctx context.Context, s *models.UploadSession)

// ExpiryNotifier is implemented by backends that fire expiry on their own,
// without waiting for a ClaimExpired sweep.
type ExpiryNotifier interface {
	OnExpire(h ExpiryHandler)
}
