// Package session maps client session ids to exclusive browser workers and
// serializes command execution per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/pkg/models"
)

// Task is one command in flight through a session's mailbox. Reply must be
// buffered; the runner never blocks on a caller that gave up.
type Task struct {
	Cmd   models.Command
	Reply chan Result
}

// Result is the outcome of one executed task.
type Result struct {
	Artifact *models.Artifact
	Err      error
}

// NewTask wraps a command with a reply channel.
func NewTask(cmd models.Command) *Task {
	return &Task{Cmd: cmd, Reply: make(chan Result, 1)}
}

// Executor runs one command against a page. Implemented by internal/executor.
type Executor interface {
	Execute(ctx context.Context, page browser.Page, cmd models.Command) (*models.Artifact, error)
}

// WorkerPool supplies and reclaims browser workers. Implemented by
// internal/browser.Pool.
type WorkerPool interface {
	Acquire(ctx context.Context) (browser.Worker, error)
	Release(w browser.Worker)
}

// Session is one logical browsing context bound to a leased worker. Its
// runner goroutine drains the mailbox one task at a time, which gives the
// strict per-session FIFO ordering guarantee.
type Session struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	state   models.SessionState
	last    time.Time
	busy    bool
	pending int

	worker browser.Worker
	page   browser.Page

	mailbox chan *Task
	done    chan struct{}
}

// ID returns the client-facing session id.
func (s *Session) ID() string { return s.id }

// Snapshot returns the client-facing view of the session.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Session{
		ID:           s.id,
		State:        s.state,
		WorkerID:     s.worker.ID(),
		CreatedAt:    s.createdAt,
		LastActivity: s.last,
	}
}

// Config carries the session-level tuning knobs.
type Config struct {
	IdleTimeout       time.Duration
	AdmissionDeadline time.Duration
	MailboxDepth      int
}

// Manager owns the session table. All state transitions for one session id
// happen under that session's lock, so resolve, expiry sweep, and close
// never race an in-flight command.
type Manager struct {
	pool WorkerPool
	exec Executor
	cfg  Config
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg        sync.WaitGroup
	sweepOnce sync.Once
	sweeping  bool
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewManager builds a session manager over the given pool and executor.
func NewManager(pool WorkerPool, exec Executor, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		pool:      pool,
		exec:      exec,
		cfg:       cfg,
		log:       log,
		sessions:  make(map[string]*Session),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Resolve returns the live session for id, creating one (with a fresh
// worker) when the id is unknown or its previous session expired or closed.
func (m *Manager) Resolve(ctx context.Context, id string) (*Session, error) {
	if s := m.lookupLive(id); s != nil {
		return s, nil
	}
	return m.create(ctx, id)
}

// Lookup returns a snapshot of the session without creating one.
func (m *Manager) Lookup(id string) (models.Session, error) {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return models.Session{}, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	return s.Snapshot(), nil
}

// List returns snapshots of every known session, terminal ones included
// until the sweep retires them.
func (m *Manager) List() []models.Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// ControlURL exposes the CDP endpoint of the session's worker for the
// debug proxy.
func (m *Manager) ControlURL(id string) (string, error) {
	s := m.lookupLive(id)
	if s == nil {
		return "", fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker.ControlURL(), nil
}

// Enqueue admits a task into the session's mailbox. Fails with Overloaded
// when the mailbox is full and Expired when the session turned terminal.
func (m *Manager) Enqueue(s *Session, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: session %s", models.ErrExpired, s.id)
	}
	select {
	case s.mailbox <- t:
		s.pending++
		return nil
	default:
		return fmt.Errorf("%w: session %s mailbox full", models.ErrOverloaded, s.id)
	}
}

// Close explicitly terminates a session. Closing an already expired session
// just marks it CLOSED; its worker was reclaimed at expiry.
func (m *Manager) Close(id string) error {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}

	s.mu.Lock()
	switch s.state {
	case models.StateClosed:
		s.mu.Unlock()
		return nil
	case models.StateExpired:
		s.state = models.StateClosed
		s.mu.Unlock()
		return nil
	default:
		s.state = models.StateClosed
		close(s.done)
		s.mu.Unlock()
		m.log.Info("session closed", zap.String("session", id))
		return nil
	}
}

func (m *Manager) lookupLive(id string) *Session {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return nil
	}
	m.expireIfIdle(s, time.Now())

	s.mu.Lock()
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal {
		return nil
	}
	return s
}

func (m *Manager) create(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: session manager shut down", models.ErrResourceExhausted)
	}

	acquireCtx := ctx
	if m.cfg.AdmissionDeadline > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.cfg.AdmissionDeadline)
		defer cancel()
	}
	w, err := m.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, err
	}

	page, err := w.Page(ctx)
	if err != nil {
		m.pool.Release(w)
		return nil, fmt.Errorf("%w: %v", models.ErrSessionCreationFailed, err)
	}

	now := time.Now()
	s := &Session{
		id:        id,
		createdAt: now,
		state:     models.StateCreated,
		last:      now,
		worker:    w,
		page:      page,
		mailbox:   make(chan *Task, m.cfg.MailboxDepth),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if existing := m.sessions[id]; existing != nil {
		existing.mu.Lock()
		live := !existing.state.Terminal()
		existing.mu.Unlock()
		if live {
			// Lost the creation race; hand the worker straight back.
			m.mu.Unlock()
			m.pool.Release(w)
			return existing, nil
		}
	}
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(s)
	m.log.Info("session created",
		zap.String("session", id),
		zap.String("worker", w.ID()))
	return s, nil
}

// run is the session's runner: one goroutine, one task at a time, arrival
// order preserved by the mailbox channel.
func (m *Manager) run(s *Session) {
	defer m.wg.Done()
	for {
		select {
		case <-s.done:
			m.finalize(s)
			return
		case t := <-s.mailbox:
			m.runTask(s, t)
			s.mu.Lock()
			terminal := s.state.Terminal()
			s.mu.Unlock()
			if terminal {
				m.finalize(s)
				return
			}
		}
	}
}

func (m *Manager) runTask(s *Session, t *Task) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		t.Reply <- Result{Err: fmt.Errorf("%w: session %s", models.ErrExpired, s.id)}
		return
	}
	s.busy = true
	s.pending--
	if s.state == models.StateCreated || s.state == models.StateIdle {
		s.state = models.StateActive
	}
	s.last = time.Now()
	page, worker := s.page, s.worker
	s.mu.Unlock()

	// The command keeps running on its own budget even if the submitter's
	// request context is gone; the artifact is stored either way.
	art, err := m.exec.Execute(context.Background(), page, t.Cmd)
	if err != nil && errors.Is(err, models.ErrTimeout) {
		// The browser-side operation may still be running; the pool must
		// re-probe this worker before anyone else gets it.
		worker.MarkSuspect()
	}

	s.mu.Lock()
	s.busy = false
	s.last = time.Now()
	s.mu.Unlock()

	if worker.Crashed() {
		m.log.Warn("worker crashed during command",
			zap.String("session", s.id),
			zap.String("worker", worker.ID()))
		m.expire(s, "worker crashed")
	}

	t.Reply <- Result{Artifact: art, Err: err}
}

// expire transitions a session to EXPIRED and signals its runner to
// reclaim the worker. No-op on terminal sessions.
func (m *Manager) expire(s *Session, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = models.StateExpired
	close(s.done)
	s.mu.Unlock()
	m.log.Info("session expired",
		zap.String("session", s.id),
		zap.String("reason", reason))
}

// expireIfIdle applies the idle-timeout transition lazily, so a session is
// EXPIRED before its next resolve even between sweeps.
func (m *Manager) expireIfIdle(s *Session, now time.Time) {
	s.mu.Lock()
	over := !s.state.Terminal() && !s.busy && s.pending == 0 &&
		now.Sub(s.last) > m.cfg.IdleTimeout
	s.mu.Unlock()
	if over {
		m.expire(s, "idle timeout")
	}
}

// finalize drains unserved tasks and returns the worker to the pool. Only
// the runner calls it, so the worker is released exactly once and never
// while a command is in flight.
func (m *Manager) finalize(s *Session) {
	for {
		select {
		case t := <-s.mailbox:
			t.Reply <- Result{Err: fmt.Errorf("%w: session %s", models.ErrExpired, s.id)}
		default:
			m.pool.Release(s.worker)
			return
		}
	}
}

// StartSweep runs the periodic idle/expiry pass.
func (m *Manager) StartSweep(interval time.Duration) {
	m.sweepOnce.Do(func() {
		m.sweeping = true
		go func() {
			defer close(m.sweepDone)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-m.sweepStop:
					return
				case <-ticker.C:
					m.sweep(time.Now(), interval)
				}
			}
		}()
	})
}

// sweep marks quiet sessions IDLE, expires sessions past the idle timeout,
// and retires terminal records once they have been cold for another full
// idle window.
func (m *Manager) sweep(now time.Time, interval time.Duration) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var retire []string
	for _, s := range sessions {
		s.mu.Lock()
		switch {
		case s.state.Terminal():
			if now.Sub(s.last) > m.cfg.IdleTimeout {
				retire = append(retire, s.id)
			}
			s.mu.Unlock()
		case s.busy || s.pending > 0:
			s.mu.Unlock()
		case now.Sub(s.last) > m.cfg.IdleTimeout:
			s.mu.Unlock()
			m.expire(s, "idle timeout")
		case s.state == models.StateActive && now.Sub(s.last) >= interval:
			s.state = models.StateIdle
			s.mu.Unlock()
		default:
			s.mu.Unlock()
		}
	}

	if len(retire) > 0 {
		m.mu.Lock()
		for _, id := range retire {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
}

// Shutdown closes every session, waits for their runners to return workers,
// and stops the sweep.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if !s.state.Terminal() {
			s.state = models.StateClosed
			close(s.done)
		}
		s.mu.Unlock()
	}

	select {
	case <-m.sweepStop:
	default:
		close(m.sweepStop)
	}
	if m.sweeping {
		<-m.sweepDone
	}
	m.wg.Wait()
}
