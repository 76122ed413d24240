package authcore

import (
	"context"
	"errors"
	"time"
)

// janitor sweeps expired sessions and refresh families on a fixed
// interval. It owns its context; request handling never waits on it and
// its failures are logged, not propagated.
type janitor struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// StartJanitor launches the background sweeper. It returns an error if
// one is already running; Close (or StopJanitor) stops it.
func (e *Engine) StartJanitor() error {
	e.janitorMu.Lock()
	defer e.janitorMu.Unlock()

	if e.janitor != nil {
		return errors.New("janitor already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &janitor{
		engine: e,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.janitor = j
	go j.run(ctx, e.cfg.Janitor.Interval)
	return nil
}

// StopJanitor stops the background sweeper if running.
func (e *Engine) StopJanitor() {
	e.janitorMu.Lock()
	defer e.janitorMu.Unlock()

	if e.janitor != nil {
		e.janitor.stop()
		e.janitor = nil
	}
}

func (j *janitor) run(ctx context.Context, interval time.Duration) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	e := j.engine

	for _, tenant := range e.cfg.Janitor.Tenants {
		removed, err := e.sessions.SweepExpired(ctx, tenant)
		if err != nil {
			e.log.Warn().Err(err).Str("tenant_id", tenant).Msg("session sweep failed")
			continue
		}
		if removed > 0 {
			e.log.Debug().Int("removed", removed).Str("tenant_id", tenant).Msg("swept expired sessions")
		}
	}

	removed, err := e.refresh.SweepExpiredFamilies(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("refresh family sweep failed")
		return
	}
	if removed > 0 {
		e.log.Debug().Int("removed", removed).Msg("swept expired refresh families")
	}
}

func (j *janitor) stop() {
	j.cancel()
	<-j.done
}
