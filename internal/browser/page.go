package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// PageContent is a structured extraction of the page's current document.
type PageContent struct {
	URL     string
	Title   string
	Content string
}

// Cookie is the wire form of a cookie to install on a page.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Page is the automation surface of a session's active browser tab.
// The concrete implementation drives Chromium over CDP; tests substitute
// fakes so no real browser is needed.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	Eval(ctx context.Context, js string) (json.RawMessage, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Content(ctx context.Context) (PageContent, error)
	WaitForText(ctx context.Context, text string, interval time.Duration) error
	SetViewport(width, height int) error
	SetUserAgent(ua string) error
	SetCookies(cookies []Cookie) error
	SetContent(ctx context.Context, html string) error
	Close() error
}

// rodPage drives a single Chromium tab through rod.
type rodPage struct {
	page *rod.Page
}

func newRodPage(p *rod.Page) *rodPage {
	return &rodPage{page: p}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	// Post-load settle; SPAs routinely never go fully stable, so a short
	// bounded wait is best effort only.
	_ = pg.Timeout(3 * time.Second).WaitStable(500 * time.Millisecond)
	return nil
}

func (p *rodPage) Back(ctx context.Context) error {
	return p.page.Context(ctx).NavigateBack()
}

func (p *rodPage) Forward(ctx context.Context) error {
	return p.page.Context(ctx).NavigateForward()
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	pg := p.page.Context(ctx)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	_ = el.ScrollIntoView()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	_ = pg.WaitStable(time.Second)
	return nil
}

func (p *rodPage) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Value.JSON("", "")), nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	pg := p.page.Context(ctx)
	if fullPage {
		return pg.Screenshot(true, &proto.PageCaptureScreenshot{
			Format:      proto.PageCaptureScreenshotFormatPng,
			FromSurface: true,
		})
	}
	return pg.Screenshot(false, nil)
}

func (p *rodPage) Content(ctx context.Context) (PageContent, error) {
	pg := p.page.Context(ctx)
	info, err := pg.Info()
	if err != nil {
		return PageContent{}, fmt.Errorf("page info: %w", err)
	}
	html, err := pg.HTML()
	if err != nil {
		return PageContent{}, fmt.Errorf("page html: %w", err)
	}
	return PageContent{URL: info.URL, Title: info.Title, Content: html}, nil
}

// WaitForText polls the document until the text appears or ctx expires.
func (p *rodPage) WaitForText(ctx context.Context, text string, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		html, err := p.page.Context(ctx).HTML()
		if err == nil && strings.Contains(html, text) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("text %q not found: %w", text, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *rodPage) SetViewport(width, height int) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}.Call(p.page)
}

func (p *rodPage) SetUserAgent(ua string) error {
	return p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
}

func (p *rodPage) SetCookies(cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			URL:    c.URL,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return p.page.SetCookies(params)
}

func (p *rodPage) SetContent(ctx context.Context, html string) error {
	return p.page.Context(ctx).SetDocumentContent(html)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
