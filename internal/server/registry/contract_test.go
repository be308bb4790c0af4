package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source shared by a registry under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSession(id string, created time.Time) *models.UploadSession {
	return &models.UploadSession{
		UploadID:       id,
		ConversationID: "conv-1",
		OwnerID:        "owner-1",
		FileName:       "photo.enc",
		FileSize:       1024,
		FileType:       "application/octet-stream",
		TotalChunks:    3,
		State:          models.StateCreated,
		CreatedAt:      created,
	}
}

// runContract exercises the behaviour every Registry backend must share.
func runContract(t *testing.T, newRegistry func(t *testing.T, c *clock) Registry) {
	ctx := context.Background()

	t.Run("create get exists count list", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)

		require.NoError(t, r.Create(ctx, newSession("b", c.Now())))
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))

		err := r.Create(ctx, newSession("a", c.Now()))
		assert.ErrorIs(t, err, common.ErrAlreadyExists)

		s, ok, err := r.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", s.UploadID)
		assert.Equal(t, 3, s.TotalChunks)
		assert.Equal(t, models.StateCreated, s.State)

		_, ok, err = r.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Exists(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := r.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ids, err := r.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("attach external info once", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))

		ok, err := r.AttachExternalInfo(ctx, "a", "ext-1", "key-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.AttachExternalInfo(ctx, "a", "ext-2", "key-2")
		require.NoError(t, err)
		assert.False(t, ok, "second attach must be rejected")

		ok, err = r.AttachExternalInfo(ctx, "missing", "ext", "key")
		require.NoError(t, err)
		assert.False(t, ok)

		s, _, err := r.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "ext-1", s.ExternalUploadID)
		assert.Equal(t, "key-1", s.ExternalKey)
		assert.Equal(t, models.StateAwaitingParts, s.State)
	})

	t.Run("transition is compare and set", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		_, err := r.AttachExternalInfo(ctx, "a", "ext", "key")
		require.NoError(t, err)

		ok, err := r.TransitionState(ctx, "a", models.StateAwaitingParts, models.StateCompleting)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.TransitionState(ctx, "a", models.StateAwaitingParts, models.StateCompleting)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.TransitionState(ctx, "missing", models.StateAwaitingParts, models.StateCompleting)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))

		ok, err := r.Delete(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.Delete(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired session is unreachable and claimed once", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		require.NoError(t, r.Create(ctx, newSession("b", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "a", time.Hour))
		require.NoError(t, r.ScheduleExpiry(ctx, "b", 3*time.Hour))

		s, ok, err := r.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, c.Now().Add(time.Hour).Unix(), s.ExpiresAt.Unix())

		c.Advance(2 * time.Hour)

		_, ok, err = r.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = r.AttachExternalInfo(ctx, "a", "ext", "key")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := r.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		claimed, err := r.ClaimExpired(ctx, c.Now(), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "a", claimed[0].UploadID)

		claimed, err = r.ClaimExpired(ctx, c.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)

		ok, err = r.Exists(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("cancelled expiry keeps session", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "a", time.Hour))
		require.NoError(t, r.CancelExpiryTimer(ctx, "a"))

		c.Advance(2 * time.Hour)

		ok, err := r.Exists(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		claimed, err := r.ClaimExpired(ctx, c.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("absent ids are ignored by expiry calls", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		assert.NoError(t, r.ScheduleExpiry(ctx, "missing", time.Hour))
		assert.NoError(t, r.CancelExpiryTimer(ctx, "missing"))
	})

	t.Run("completing session is never claimed", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "a", time.Hour))
		_, err := r.AttachExternalInfo(ctx, "a", "ext", "key")
		require.NoError(t, err)
		_, err = r.TransitionState(ctx, "a", models.StateAwaitingParts, models.StateCompleting)
		require.NoError(t, err)

		claimed, err := r.ClaimExpired(ctx, c.Now().Add(2*time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("overdue session outside the expiry path stays deletable", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)

		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "a", time.Hour))
		_, err := r.AttachExternalInfo(ctx, "a", "ext", "key")
		require.NoError(t, err)
		ok, err := r.TransitionState(ctx, "a", models.StateAwaitingParts, models.StateCompleting)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, r.Create(ctx, newSession("b", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "b", time.Hour))
		ok, err = r.TransitionState(ctx, "b", models.StateCreated, models.StateAborted)
		require.NoError(t, err)
		require.True(t, ok)

		c.Advance(2 * time.Hour)

		// cancel still reaches the completing session and makes it visible
		require.NoError(t, r.CancelExpiryTimer(ctx, "a"))
		ok, err = r.Exists(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		for _, id := range []string{"a", "b"} {
			ok, err = r.Delete(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, id)
		}

		claimed, err := r.ClaimExpired(ctx, c.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)

		ids, err := r.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("overdue expirable session is left to the claim", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)
		require.NoError(t, r.Create(ctx, newSession("a", c.Now())))
		require.NoError(t, r.ScheduleExpiry(ctx, "a", time.Hour))

		c.Advance(2 * time.Hour)

		ok, err := r.Delete(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, r.CancelExpiryTimer(ctx, "a"))

		claimed, err := r.ClaimExpired(ctx, c.Now(), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "a", claimed[0].UploadID)
	})

	t.Run("concurrent claims never overlap", func(t *testing.T) {
		c := newClock()
		r := newRegistry(t, c)

		const total = 20
		for i := 0; i < total; i++ {
			id := fmt.Sprintf("s-%02d", i)
			require.NoError(t, r.Create(ctx, newSession(id, c.Now())))
			require.NoError(t, r.ScheduleExpiry(ctx, id, time.Minute))
		}
		c.Advance(time.Hour)

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := r.ClaimExpired(ctx, c.Now(), 3)
					if err != nil {
						t.Error(err)
						return
					}
					if len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, s := range claimed {
						seen[s.UploadID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "session %s claimed %d times", id, n)
		}
	})
}
