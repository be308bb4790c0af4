package uploads

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaper_ReapsAndRunsJanitor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())

	_, err := f.svc.Initiate(ctx, sampleRequest(1))
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.stale = []models.StaleUpload{{Key: "attachments/c/orphan/f.bin", ExternalUploadID: "ext-x"}}
	f.store.mu.Unlock()

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	r := NewReaper(ctx, f.svc, 5*time.Millisecond, 2)
	r.Start()

	require.Eventually(t, func() bool {
		st := f.svc.Stats()
		return st.Expired == 1 && st.StaleUploadsAborted >= 1
	}, 2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))

	assert.Equal(t, []string{"ext-1"}, f.store.abortedIDs())
}

func TestReaper_ShutdownIdle(t *testing.T) {
	f := newFixture(t, testOptions())

	r := NewReaper(context.Background(), f.svc, time.Hour, 0)
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Shutdown(ctx))
	assert.Zero(t, f.svc.Stats().Expired)
}

func TestReaper_NonPositiveIntervalFallsBack(t *testing.T) {
	f := newFixture(t, testOptions())

	for _, d := range []time.Duration{0, -time.Second} {
		r := NewReaper(context.Background(), f.svc, d, 1)
		assert.Equal(t, defaultReaperInterval, r.interval)

		assert.NotPanics(t, r.Start)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		assert.NoError(t, r.Shutdown(ctx))
		cancel()
	}
}
