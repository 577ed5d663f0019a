package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot/webpilot/pkg/models"
)

// pingTimeout bounds the health probe run before a suspect worker is reused.
const pingTimeout = 5 * time.Second

// Pool owns a bounded set of browser workers. Workers are leased to exactly
// one session at a time; a crashed worker is discarded and its capacity
// backfilled, never re-leased.
type Pool struct {
	launcher Launcher
	max      int
	wait     bool
	sem      *semaphore.Weighted
	log      *zap.Logger

	mu     sync.Mutex
	idle   []Worker
	closed bool
}

// NewPool builds a pool of at most max workers. With wait=true, Acquire
// queues until a worker frees or ctx expires; with wait=false it fails
// immediately once capacity is exhausted.
func NewPool(launcher Launcher, max int, wait bool, log *zap.Logger) *Pool {
	return &Pool{
		launcher: launcher,
		max:      max,
		wait:     wait,
		sem:      semaphore.NewWeighted(int64(max)),
		log:      log,
	}
}

// Capacity returns the configured maximum number of workers.
func (p *Pool) Capacity() int { return p.max }

// IdleCount returns the number of workers currently parked idle.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Acquire leases a worker, spawning one if under capacity. Suspect workers
// are re-probed before being handed out; failed probes discard them.
func (p *Pool) Acquire(ctx context.Context) (Worker, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("%w: pool closed", models.ErrResourceExhausted)
	}

	if p.wait {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: no worker within admission deadline: %v",
				models.ErrSessionCreationFailed, err)
		}
	} else {
		if !p.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%w: all %d workers leased", models.ErrResourceExhausted, p.max)
		}
	}

	for {
		w := p.popIdle()
		if w == nil {
			w, err := p.launcher.Launch(ctx)
			if err != nil {
				p.sem.Release(1)
				return nil, fmt.Errorf("%w: %v", models.ErrSessionCreationFailed, err)
			}
			p.log.Info("worker spawned", zap.String("worker", w.ID()))
			return w, nil
		}

		if w.Crashed() {
			p.discard(w, "crashed in idle pool")
			continue
		}
		if w.Suspect() {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := w.Ping(pingCtx)
			cancel()
			if err != nil {
				p.discard(w, "failed health probe")
				continue
			}
			w.ClearSuspect()
		}
		return w, nil
	}
}

// Release returns a leased worker. Healthy workers go back to idle with a
// fresh tab; crashed or probe-failing workers are discarded and replaced
// asynchronously.
func (p *Pool) Release(w Worker) {
	if w == nil {
		return
	}

	if w.Crashed() {
		p.replace(w, "crashed")
		return
	}
	if w.Suspect() {
		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := w.Ping(pingCtx)
		cancel()
		if err != nil {
			p.replace(w, "failed health probe on release")
			return
		}
		w.ClearSuspect()
	}

	w.ResetPage()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = w.Close()
		return
	}
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.sem.Release(1)
}

// replace discards a worker and backfills capacity in the background. The
// capacity token is held until the backfill attempt finishes, so the pool
// never exceeds max.
func (p *Pool) replace(w Worker, reason string) {
	go func() {
		p.discard(w, reason)

		defer p.sem.Release(1)
		if p.isClosed() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fresh, err := p.launcher.Launch(ctx)
		if err != nil {
			// Capacity is still backfilled; the next Acquire spawns on demand.
			p.log.Warn("worker backfill failed", zap.Error(err))
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = fresh.Close()
			return
		}
		p.idle = append(p.idle, fresh)
		p.mu.Unlock()
		p.log.Info("worker backfilled", zap.String("worker", fresh.ID()), zap.String("replaced", w.ID()))
	}()
}

func (p *Pool) discard(w Worker, reason string) {
	p.log.Warn("worker discarded",
		zap.String("worker", w.ID()),
		zap.String("reason", reason))
	if err := w.Close(); err != nil {
		p.log.Debug("worker close", zap.String("worker", w.ID()), zap.Error(err))
	}
}

func (p *Pool) popIdle() Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	w := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return w
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close terminates all idle workers and rejects further acquisitions.
// Leased workers are closed by their sessions on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, w := range idle {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
