package uploads

import (
	"context"
	"sync"
	"time"
)

const defaultReaperInterval = 30 * time.Second

// Reaper periodically claims expired sessions and, every janitorEvery
// ticks, aborts orphaned store uploads.
type Reaper struct {
	svc          *Service
	interval     time.Duration
	janitorEvery int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper builds a stopped reaper. A non-positive interval falls back to
// defaultReaperInterval.
func NewReaper(parent context.Context, svc *Service, interval time.Duration, janitorEvery int) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	ctx, cancel := context.WithCancel(parent)

	return &Reaper{
		svc:          svc,
		interval:     interval,
		janitorEvery: janitorEvery,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
}

func (r *Reaper) loop() {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	ticks := 0
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
		}

		ticks++
		r.tick(ticks)
	}
}

func (r *Reaper) tick(n int) {
	if claimed, err := r.svc.Sweep(r.ctx); err != nil {
		r.svc.log.Error(r.ctx, "expiry sweep failed", "error", err)
	} else if claimed > 0 {
		r.svc.log.Info(r.ctx, "expired sessions reaped", "count", claimed)
	}

	if r.janitorEvery > 0 && n%r.janitorEvery == 0 {
		if _, err := r.svc.CleanupStale(r.ctx); err != nil {
			r.svc.log.Error(r.ctx, "stale upload cleanup failed", "error", err)
		}
	}
}

// Shutdown stops the loop and waits for the current tick to finish.
func (r *Reaper) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
