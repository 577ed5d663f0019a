package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/browser/browsertest"
	"github.com/webpilot/webpilot/internal/scheduler"
	"github.com/webpilot/webpilot/internal/session"
	"github.com/webpilot/webpilot/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubExec struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
}

func (e *stubExec) Execute(ctx context.Context, page browser.Page, cmd models.Command) (*models.Artifact, error) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	e.seen = append(e.seen, cmd.ID)
	e.mu.Unlock()
	return &models.Artifact{ID: "art-" + cmd.ID, SessionID: cmd.SessionID, CommandID: cmd.ID}, nil
}

func (e *stubExec) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.seen))
	copy(out, e.seen)
	return out
}

func newScheduler(t *testing.T, poolSize, queueDepth int) (*scheduler.Scheduler, *session.Manager, *stubExec) {
	t.Helper()
	launcher := &browsertest.FakeLauncher{}
	pool := browser.NewPool(launcher, poolSize, true, zap.NewNop())
	exec := &stubExec{}
	mgr := session.NewManager(pool, exec, session.Config{
		IdleTimeout:       time.Minute,
		AdmissionDeadline: 2 * time.Second,
		MailboxDepth:      8,
	}, zap.NewNop())
	sched := scheduler.New(mgr, queueDepth, zap.NewNop())
	t.Cleanup(func() {
		sched.Stop()
		mgr.Shutdown()
		pool.Close()
	})
	return sched, mgr, exec
}

func TestSubmitCreatesSessionAndReturnsArtifact(t *testing.T) {
	sched, mgr, _ := newScheduler(t, 1, 8)
	sched.Start()

	art, err := sched.Submit(context.Background(), models.Command{
		ID:        "cmd-1",
		SessionID: "sess-1",
		Action:    models.ActionExtract,
	})
	require.NoError(t, err)
	assert.Equal(t, "art-cmd-1", art.ID)
	assert.Equal(t, "sess-1", art.SessionID)

	// The session was created on first use.
	snap, err := mgr.Lookup("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, snap.State)
}

func TestSubmitSequentialCommandsStayOrdered(t *testing.T) {
	sched, _, exec := newScheduler(t, 1, 8)
	sched.Start()

	want := []string{"cmd-1", "cmd-2", "cmd-3"}
	for _, id := range want {
		_, err := sched.Submit(context.Background(), models.Command{
			ID:        id,
			SessionID: "sess-1",
			Action:    models.ActionExtract,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, want, exec.executed())
}

func TestSubmitOverloadedWhenQueueFull(t *testing.T) {
	// Dispatcher deliberately not started, so the queue never drains.
	sched, _, _ := newScheduler(t, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sched.Submit(ctx, models.Command{ID: "cmd-1", SessionID: "sess-1", Action: models.ActionExtract})
	require.ErrorIs(t, err, models.ErrTimeout)

	_, err = sched.Submit(context.Background(), models.Command{ID: "cmd-2", SessionID: "sess-1", Action: models.ActionExtract})
	require.ErrorIs(t, err, models.ErrOverloaded)
}

func TestSubmitCallerCancellationDoesNotAbortCommand(t *testing.T) {
	sched, _, exec := newScheduler(t, 1, 8)
	exec.block = make(chan struct{})
	sched.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sched.Submit(ctx, models.Command{ID: "cmd-1", SessionID: "sess-1", Action: models.ActionExtract})
	require.ErrorIs(t, err, models.ErrTimeout)

	// The command still runs to completion after the caller walked away.
	close(exec.block)
	require.Eventually(t, func() bool {
		return len(exec.executed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	sched, _, _ := newScheduler(t, 1, 8)
	sched.Start()
	sched.Stop()
	sched.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	sched, _, _ := newScheduler(t, 1, 8)
	sched.Stop()
}
