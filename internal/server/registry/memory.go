package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

type memoryEntry struct {
	session *models.UploadSession
	timer   *time.Timer
}

// MemoryRegistry keeps sessions in a process-local map. Each scheduled expiry
// arms a timer whose callback claims the session under the same mutex as
// ClaimExpired, so a session expires through exactly one path.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	onExpire ExpiryHandler
	now      func() time.Time
}

// NewMemoryRegistry returns an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// OnExpire registers the handler invoked by expiry timers.
func (r *MemoryRegistry) OnExpire(h ExpiryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = h
}

// live returns the entry for id unless it is absent or expired.
// Caller must hold r.mu.
func (r *MemoryRegistry) live(id string) (*memoryEntry, bool) {
	e, ok := r.sessions[id]
	if !ok || e.session.ExpiredAt(r.now()) {
		return nil, false
	}
	return e, true
}

// unclaimed returns the entry for id unless it is absent or owned by the
// expiry path. Caller must hold r.mu.
func (r *MemoryRegistry) unclaimed(id string) (*memoryEntry, bool) {
	e, ok := r.sessions[id]
	if !ok || e.session.ClaimableAt(r.now()) {
		return nil, false
	}
	return e, true
}

func (r *MemoryRegistry) Create(ctx context.Context, s *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.UploadID]; ok {
		return common.ErrAlreadyExists
	}
	r.sessions[s.UploadID] = &memoryEntry{session: s.Clone()}
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*models.UploadSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok {
		return nil, false, nil
	}
	return e.session.Clone(), true, nil
}

func (r *MemoryRegistry) AttachExternalInfo(ctx context.Context, id, externalUploadID, externalKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok || e.session.Attached() || e.session.State != models.StateCreated {
		return false, nil
	}
	e.session.ExternalUploadID = externalUploadID
	e.session.ExternalKey = externalKey
	e.session.State = models.StateAwaitingParts
	return true, nil
}

func (r *MemoryRegistry) TransitionState(ctx context.Context, id string, from, to models.State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok || e.session.State != from {
		return false, nil
	}
	e.session.State = to
	return true, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.unclaimed(id)
	if !ok {
		return false, nil
	}
	stopTimer(e)
	delete(r.sessions, id)
	return true, nil
}

func (r *MemoryRegistry) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.live(id)
	return ok, nil
}

func (r *MemoryRegistry) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	now := r.now()
	for _, e := range r.sessions {
		if !e.session.ExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ids := make([]string, 0, len(r.sessions))
	for id, e := range r.sessions {
		if !e.session.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRegistry) ScheduleExpiry(ctx context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(id)
	if !ok {
		return nil
	}
	stopTimer(e)

	deadline := r.now().Add(ttl)
	e.session.ExpiresAt = deadline
	e.timer = time.AfterFunc(ttl, func() { r.fire(id, deadline) })
	return nil
}

func (r *MemoryRegistry) CancelExpiryTimer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.unclaimed(id)
	if !ok {
		return nil
	}
	stopTimer(e)
	e.session.ExpiresAt = time.Time{}
	return nil
}

func (r *MemoryRegistry) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []*models.UploadSession
	for id, e := range r.sessions {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		if !e.session.State.Expirable() || !e.session.ExpiredAt(now) {
			continue
		}
		stopTimer(e)
		delete(r.sessions, id)
		claimed = append(claimed, e.session)
	}
	return claimed, nil
}

// fire is the timer callback. A timer that lost the race against a
// reschedule, a cancel or a sweep finds a different deadline or no entry.
func (r *MemoryRegistry) fire(id string, deadline time.Time) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || !e.session.ExpiresAt.Equal(deadline) || !e.session.State.Expirable() {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	h := r.onExpire
	r.mu.Unlock()

	if h != nil {
		h(context.Background(), e.session)
	}
}

func stopTimer(e *memoryEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
