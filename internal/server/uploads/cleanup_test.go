package uploads

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends: the redis client refuses to run commands on a cancelled
// context, the memory one does not care.
var backends = []struct {
	name string
	new  func(t *testing.T) registry.Registry
}{
	{name: "memory", new: func(t *testing.T) registry.Registry { return registry.NewMemoryRegistry() }},
	{name: "redis", new: func(t *testing.T) registry.Registry {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return registry.NewRedisRegistry(client)
	}},
}

// cancelAfterTransition cancels the caller's context right after the state
// change lands, the way a client hanging up mid-request would.
type cancelAfterTransition struct {
	registry.Registry
	to     models.State
	cancel context.CancelFunc
}

func (c *cancelAfterTransition) TransitionState(ctx context.Context, id string, from, to models.State) (bool, error) {
	ok, err := c.Registry.TransitionState(ctx, id, from, to)
	if to == c.to {
		c.cancel()
	}
	return ok, err
}

func TestService_CompleteFailureCleansUpAfterClientCancel(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.new(t)
			store := &fakeStore{honorCancel: true}
			svc := NewService(reg, store, &fakeNotifier{}, testOptions(), logging.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := svc.Initiate(ctx, sampleRequest(2))
			require.NoError(t, err)

			store.completeHook = cancel
			_, err = svc.Complete(ctx, res.UploadID, tokens(2))
			require.ErrorIs(t, err, common.ErrStoreCompletion)

			assert.Equal(t, []string{"ext-1"}, store.abortedIDs())
			assert.Zero(t, svc.Stats().AbortFailures)

			exists, err := reg.Exists(context.Background(), res.UploadID)
			require.NoError(t, err)
			assert.False(t, exists, "session must not stay in completing")
		})
	}
}

func TestService_CompleteSuccessFinishesAfterClientCancel(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.new(t)
			store := &fakeStore{}
			notifier := &fakeNotifier{}
			svc := NewService(reg, store, notifier, testOptions(), logging.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			res, err := svc.Initiate(ctx, sampleRequest(1))
			require.NoError(t, err)

			store.completeHook = cancel
			desc, err := svc.Complete(ctx, res.UploadID, tokens(1))
			require.NoError(t, err)
			assert.Equal(t, res.ObjectKey, desc.Key)

			n, err := reg.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)

			assert.Equal(t, []string{res.UploadID}, notifier.events)
			assert.Equal(t, []error{nil}, notifier.ctxErrs)
		})
	}
}

func TestService_AbortFinishesAfterClientCancel(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			inner := b.new(t)
			reg := &cancelAfterTransition{Registry: inner, to: models.StateAborted, cancel: cancel}
			store := &fakeStore{}
			svc := NewService(reg, store, &fakeNotifier{}, testOptions(), logging.Nop())

			res, err := svc.Initiate(ctx, sampleRequest(1))
			require.NoError(t, err)

			ok, err := svc.Abort(ctx, res.UploadID)
			require.NoError(t, err)
			assert.True(t, ok)

			assert.Equal(t, []string{"ext-1"}, store.abortedIDs())
			assert.Zero(t, svc.Stats().AbortFailures)

			n, err := inner.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
