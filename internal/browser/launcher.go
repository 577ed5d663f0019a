package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/google/uuid"
)

// LocalLauncher spawns headless Chromium processes on this host.
type LocalLauncher struct {
	// Bin overrides the browser binary path. Empty means rod's lookup.
	Bin string
}

// NewLocalLauncher returns a launcher for host-local Chromium processes.
func NewLocalLauncher(bin string) *LocalLauncher {
	return &LocalLauncher{Bin: bin}
}

// Launch starts one headless Chromium and connects to it over CDP.
func (l *LocalLauncher) Launch(ctx context.Context) (Worker, error) {
	launch := launcher.New().Headless(true).
		Set(flags.Flag("no-sandbox")).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-gpu"))
	if l.Bin != "" {
		launch = launch.Bin(l.Bin)
	}

	controlURL, err := launch.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	cleanup := func() {
		launch.Kill()
		launch.Cleanup()
	}
	return newChromeWorker(uuid.NewString(), controlURL, browser, cleanup), nil
}
