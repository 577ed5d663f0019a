package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Worker is one headless browser process, exclusively owned by the Pool and
// leased to at most one session at a time.
type Worker interface {
	ID() string
	CreatedAt() time.Time

	// Page returns the worker's active tab, creating it on first use.
	Page(ctx context.Context) (Page, error)

	// Ping probes the browser over CDP. A failed probe marks the worker
	// crashed; a crashed worker is never returned to the idle pool.
	Ping(ctx context.Context) error

	// ControlURL is the CDP WebSocket endpoint, used by the debug proxy.
	ControlURL() string

	MarkSuspect()
	ClearSuspect()
	Suspect() bool

	MarkCrashed()
	Crashed() bool

	// ResetPage drops the active tab so the next lease starts clean.
	ResetPage()

	Close() error
}

// Launcher spawns workers. Two backends exist: a local Chromium process
// (rod launcher) and a per-worker container (docker).
type Launcher interface {
	Launch(ctx context.Context) (Worker, error)
}

// chromeWorker wraps a rod browser connection plus the cleanup that tears
// down whatever backs it (local process or container).
type chromeWorker struct {
	id         string
	createdAt  time.Time
	browser    *rod.Browser
	controlURL string
	cleanup    func()

	mu      sync.Mutex
	page    *rodPage
	suspect bool
	crashed bool
}

func newChromeWorker(id, controlURL string, browser *rod.Browser, cleanup func()) *chromeWorker {
	return &chromeWorker{
		id:         id,
		createdAt:  time.Now(),
		browser:    browser,
		controlURL: controlURL,
		cleanup:    cleanup,
	}
}

func (w *chromeWorker) ID() string           { return w.id }
func (w *chromeWorker) CreatedAt() time.Time { return w.createdAt }
func (w *chromeWorker) ControlURL() string   { return w.controlURL }

func (w *chromeWorker) Page(ctx context.Context) (Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.page != nil {
		return w.page, nil
	}
	pg, err := w.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		w.crashed = true
		return nil, fmt.Errorf("create page: %w", err)
	}
	w.page = newRodPage(pg)
	return w.page, nil
}

func (w *chromeWorker) Ping(ctx context.Context) error {
	_, err := w.browser.Context(ctx).Version()
	if err != nil {
		w.MarkCrashed()
		return fmt.Errorf("worker %s unresponsive: %w", w.id, err)
	}
	return nil
}

func (w *chromeWorker) MarkSuspect() {
	w.mu.Lock()
	w.suspect = true
	w.mu.Unlock()
}

func (w *chromeWorker) ClearSuspect() {
	w.mu.Lock()
	w.suspect = false
	w.mu.Unlock()
}

func (w *chromeWorker) Suspect() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspect
}

func (w *chromeWorker) MarkCrashed() {
	w.mu.Lock()
	w.crashed = true
	w.mu.Unlock()
}

func (w *chromeWorker) Crashed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.crashed
}

func (w *chromeWorker) Close() error {
	w.mu.Lock()
	page := w.page
	w.page = nil
	w.mu.Unlock()

	if page != nil {
		_ = page.Close()
	}
	err := w.browser.Close()
	if w.cleanup != nil {
		w.cleanup()
	}
	return err
}

// ResetPage drops the worker's active tab so the next lease starts clean.
func (w *chromeWorker) ResetPage() {
	w.mu.Lock()
	page := w.page
	w.page = nil
	w.mu.Unlock()
	if page != nil {
		_ = page.Close()
	}
}
