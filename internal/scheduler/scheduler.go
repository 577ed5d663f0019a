// Package scheduler admits automation commands through a bounded FIFO queue
// and dispatches them to session mailboxes.
package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/session"
	"github.com/webpilot/webpilot/pkg/models"
)

// Scheduler applies backpressure at admission: once the queue is full,
// submissions are rejected with Overloaded instead of buffering without
// bound. A single dispatcher preserves cross-session arrival order.
type Scheduler struct {
	mgr   *session.Manager
	queue chan *session.Task
	log   *zap.Logger

	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New builds a scheduler with the given queue depth.
func New(mgr *session.Manager, queueDepth int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		mgr:   mgr,
		queue: make(chan *session.Task, queueDepth),
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatcher.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	go s.dispatch()
}

// Submit admits one command and waits for its result. The command keeps
// executing (and its artifact is stored) even if ctx is cancelled first.
func (s *Scheduler) Submit(ctx context.Context, cmd models.Command) (*models.Artifact, error) {
	t := session.NewTask(cmd)
	select {
	case s.queue <- t:
	default:
		return nil, fmt.Errorf("%w: admission queue full", models.ErrOverloaded)
	}

	select {
	case res := <-t.Reply:
		return res.Artifact, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: caller gave up: %v", models.ErrTimeout, ctx.Err())
	}
}

// dispatch resolves each command's session in arrival order and hands the
// task to that session's mailbox. Session resolution may wait on the worker
// pool, which is exactly the queueing behavior saturated pools call for.
func (s *Scheduler) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case t := <-s.queue:
			s.deliver(t)
		}
	}
}

func (s *Scheduler) deliver(t *session.Task) {
	sess, err := s.mgr.Resolve(context.Background(), t.Cmd.SessionID)
	if err != nil {
		s.log.Debug("dispatch rejected",
			zap.String("session", t.Cmd.SessionID),
			zap.Error(err))
		t.Reply <- session.Result{Err: err}
		return
	}
	if err := s.mgr.Enqueue(sess, t); err != nil {
		t.Reply <- session.Result{Err: err}
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case t := <-s.queue:
			t.Reply <- session.Result{Err: fmt.Errorf("%w: scheduler stopped", models.ErrOverloaded)}
		default:
			return
		}
	}
}

// Stop halts the dispatcher and rejects anything still queued.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.started {
		<-s.done
	}
}
