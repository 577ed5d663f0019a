// Package browsertest provides in-memory fakes of the browser worker
// surface so pool, session, and API tests run without a real Chromium.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/webpilot/webpilot/internal/browser"
)

// FakePage implements browser.Page. Behavior is overridable per method;
// unset methods succeed with neutral results.
type FakePage struct {
	NavigateFunc   func(ctx context.Context, url string) error
	ClickFunc      func(ctx context.Context, selector string) error
	EvalFunc       func(ctx context.Context, js string) (json.RawMessage, error)
	ScreenshotFunc func(ctx context.Context, fullPage bool) ([]byte, error)
	ContentFunc    func(ctx context.Context) (browser.PageContent, error)

	mu     sync.Mutex
	closed bool
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if p.NavigateFunc != nil {
		return p.NavigateFunc(ctx, url)
	}
	return nil
}

func (p *FakePage) Back(ctx context.Context) error    { return nil }
func (p *FakePage) Forward(ctx context.Context) error { return nil }

func (p *FakePage) Click(ctx context.Context, selector string) error {
	if p.ClickFunc != nil {
		return p.ClickFunc(ctx, selector)
	}
	return nil
}

func (p *FakePage) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	if p.EvalFunc != nil {
		return p.EvalFunc(ctx, js)
	}
	return json.RawMessage(`null`), nil
}

func (p *FakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if p.ScreenshotFunc != nil {
		return p.ScreenshotFunc(ctx, fullPage)
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *FakePage) Content(ctx context.Context) (browser.PageContent, error) {
	if p.ContentFunc != nil {
		return p.ContentFunc(ctx)
	}
	return browser.PageContent{URL: "about:blank", Title: "blank", Content: "<html></html>"}, nil
}

func (p *FakePage) WaitForText(ctx context.Context, text string, interval time.Duration) error {
	content, err := p.Content(ctx)
	if err != nil {
		return err
	}
	_ = content
	return nil
}

func (p *FakePage) SetViewport(width, height int) error            { return nil }
func (p *FakePage) SetUserAgent(ua string) error                   { return nil }
func (p *FakePage) SetCookies(cookies []browser.Cookie) error      { return nil }
func (p *FakePage) SetContent(ctx context.Context, h string) error { return nil }

func (p *FakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// FakeWorker implements browser.Worker.
type FakeWorker struct {
	WorkerID string
	FakePage *FakePage
	PingErr  error

	mu         sync.Mutex
	suspect    bool
	crashed    bool
	closed     bool
	pings      int
	pageResets int
}

// NewFakeWorker builds a worker with a default page.
func NewFakeWorker(id string) *FakeWorker {
	return &FakeWorker{WorkerID: id, FakePage: &FakePage{}}
}

func (w *FakeWorker) ID() string           { return w.WorkerID }
func (w *FakeWorker) CreatedAt() time.Time { return time.Time{} }
func (w *FakeWorker) ControlURL() string   { return "ws://fake/" + w.WorkerID }

func (w *FakeWorker) Page(ctx context.Context) (browser.Page, error) {
	return w.FakePage, nil
}

func (w *FakeWorker) Ping(ctx context.Context) error {
	w.mu.Lock()
	w.pings++
	w.mu.Unlock()
	if w.PingErr != nil {
		w.MarkCrashed()
		return w.PingErr
	}
	return nil
}

// Pings returns how many health probes the worker received.
func (w *FakeWorker) Pings() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pings
}

func (w *FakeWorker) MarkSuspect() {
	w.mu.Lock()
	w.suspect = true
	w.mu.Unlock()
}

func (w *FakeWorker) ClearSuspect() {
	w.mu.Lock()
	w.suspect = false
	w.mu.Unlock()
}

func (w *FakeWorker) Suspect() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspect
}

func (w *FakeWorker) MarkCrashed() {
	w.mu.Lock()
	w.crashed = true
	w.mu.Unlock()
}

func (w *FakeWorker) Crashed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.crashed
}

func (w *FakeWorker) ResetPage() {
	w.mu.Lock()
	w.pageResets++
	w.mu.Unlock()
}

func (w *FakeWorker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

// Closed reports whether the worker was discarded.
func (w *FakeWorker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// FakeLauncher implements browser.Launcher, minting FakeWorkers.
type FakeLauncher struct {
	// LaunchErr, when set, fails every launch.
	LaunchErr error
	// OnLaunch, when set, customizes each new worker.
	OnLaunch func(w *FakeWorker)

	mu      sync.Mutex
	spawned []*FakeWorker
}

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Worker, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.mu.Lock()
	w := NewFakeWorker(fmt.Sprintf("worker-%d", len(l.spawned)+1))
	l.spawned = append(l.spawned, w)
	l.mu.Unlock()
	if l.OnLaunch != nil {
		l.OnLaunch(w)
	}
	return w, nil
}

// Spawned returns every worker the launcher has minted, in order.
func (l *FakeLauncher) Spawned() []*FakeWorker {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FakeWorker, len(l.spawned))
	copy(out, l.spawned)
	return out
}
