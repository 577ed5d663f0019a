// Package executor runs single automation commands against a session's page
// under a per-command deadline.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/artifact"
	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/pkg/models"
)

// Executor turns commands into stored artifacts. Completed results are
// written to the artifact store before they are handed back.
type Executor struct {
	store           *artifact.Store
	defaultDeadline time.Duration
	log             *zap.Logger
}

// New builds an executor. defaultDeadline applies to commands that carry
// no deadline of their own.
func New(store *artifact.Store, defaultDeadline time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		store:           store,
		defaultDeadline: defaultDeadline,
		log:             log,
	}
}

type navigateParams struct {
	URL string `json:"url"`
}

type clickParams struct {
	Selector string `json:"selector"`
}

type screenshotParams struct {
	FullPage bool `json:"fullPage"`
}

type evaluateParams struct {
	Code string `json:"code"`
}

type viewportParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type userAgentParams struct {
	UserAgent string `json:"userAgent"`
}

type cookiesParams struct {
	Cookies []browser.Cookie `json:"cookies"`
}

type contentParams struct {
	Content string `json:"content"`
}

type waitForTextParams struct {
	Text       string `json:"text"`
	IntervalMs int    `json:"intervalMs"`
}

// Execute runs exactly one action. On deadline expiry it returns Timeout and
// the caller must treat the worker as suspect. Browser-reported failures
// come back as NavigationError/ExecutionError and leave the session usable.
func (e *Executor) Execute(ctx context.Context, page browser.Page, cmd models.Command) (*models.Artifact, error) {
	deadline := cmd.Deadline
	if deadline <= 0 {
		deadline = e.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	payload, contentType, err := e.run(ctx, page, cmd)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("command deadline exceeded",
				zap.String("session", cmd.SessionID),
				zap.String("action", string(cmd.Action)),
				zap.Duration("deadline", deadline))
			return nil, fmt.Errorf("%w: %s after %s", models.ErrTimeout, cmd.Action, deadline)
		}
		e.log.Debug("command failed",
			zap.String("session", cmd.SessionID),
			zap.String("action", string(cmd.Action)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	a := &models.Artifact{
		ID:          uuid.NewString(),
		SessionID:   cmd.SessionID,
		CommandID:   cmd.ID,
		ContentType: contentType,
		Payload:     payload,
	}
	if err := e.store.Put(a); err != nil {
		// Ids are fresh UUIDs; a conflict here is a bug, not a caller error.
		e.log.Error("artifact store rejected result", zap.String("artifact", a.ID), zap.Error(err))
	}

	e.log.Info("command executed",
		zap.String("session", cmd.SessionID),
		zap.String("action", string(cmd.Action)),
		zap.String("artifact", a.ID),
		zap.Duration("elapsed", elapsed))
	return a, nil
}

// run dispatches one action. Mutating actions resolve to the page's content
// document so callers always get the resulting page state back.
func (e *Executor) run(ctx context.Context, page browser.Page, cmd models.Command) ([]byte, string, error) {
	switch cmd.Action {
	case models.ActionNavigate:
		var p navigateParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.URL == "" {
			return nil, "", fmt.Errorf("%w: url is required for navigate", models.ErrNavigation)
		}
		if err := page.Navigate(ctx, p.URL); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrNavigation, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionBack:
		if err := page.Back(ctx); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrNavigation, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionForward:
		if err := page.Forward(ctx); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrNavigation, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionClick:
		var p clickParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Selector == "" {
			return nil, "", fmt.Errorf("%w: selector is required for click", models.ErrExecution)
		}
		if err := page.Click(ctx, p.Selector); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionExtract:
		return e.contentDocument(ctx, page)

	case models.ActionScreenshot:
		var p screenshotParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		img, err := page.Screenshot(ctx, p.FullPage)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return img, "image/png", nil

	case models.ActionEvaluate:
		var p evaluateParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Code == "" {
			return nil, "", fmt.Errorf("%w: code is required for evaluate", models.ErrExecution)
		}
		out, err := page.Eval(ctx, p.Code)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return out, "application/json", nil

	case models.ActionSetViewport:
		var p viewportParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Width <= 0 || p.Height <= 0 {
			return nil, "", fmt.Errorf("%w: width and height are required for set_viewport", models.ErrExecution)
		}
		if err := page.SetViewport(p.Width, p.Height); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionSetUserAgent:
		var p userAgentParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.UserAgent == "" {
			return nil, "", fmt.Errorf("%w: userAgent is required for set_user_agent", models.ErrExecution)
		}
		if err := page.SetUserAgent(p.UserAgent); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionSetCookies:
		var p cookiesParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if len(p.Cookies) == 0 {
			return nil, "", fmt.Errorf("%w: cookies are required for set_cookies", models.ErrExecution)
		}
		if err := page.SetCookies(p.Cookies); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionSetContent:
		var p contentParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if err := page.SetContent(ctx, p.Content); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	case models.ActionWaitForText:
		var p waitForTextParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Text == "" {
			return nil, "", fmt.Errorf("%w: text is required for wait_for_text", models.ErrExecution)
		}
		interval := time.Duration(p.IntervalMs) * time.Millisecond
		if err := page.WaitForText(ctx, p.Text, interval); err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
		}
		return e.contentDocument(ctx, page)

	default:
		return nil, "", fmt.Errorf("%w: unsupported action %q", models.ErrExecution, cmd.Action)
	}
}

func (e *Executor) contentDocument(ctx context.Context, page browser.Page) ([]byte, string, error) {
	content, err := page.Content(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
	}
	doc, err := json.Marshal(models.PageContent{
		URL:     content.URL,
		Title:   content.Title,
		Content: content.Content,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrExecution, err)
	}
	return doc, "application/json", nil
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: bad params: %v", models.ErrExecution, err)
	}
	return nil
}
