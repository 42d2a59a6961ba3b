package pagehost

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/session"
)

// Browser owns the connection to a Chrome instance and tracks the page hosts
// attached through it.
type Browser struct {
	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	hosts      map[string]*Host // keyed by target context id
}

// NewBrowser returns an unconnected browser manager.
func NewBrowser() *Browser {
	return &Browser{hosts: make(map[string]*Host)}
}

// Connect attaches to an existing Chrome at controlURL, or launches one when
// controlURL is empty.
func (b *Browser) Connect(ctx context.Context, controlURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return nil
		}
		logging.Host("Stale browser connection, reconnecting")
		_ = b.browser.Close()
		b.browser = nil
		b.hosts = make(map[string]*Host)
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(false).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	b.browser = browser
	b.controlURL = controlURL
	logging.Host("Browser connected: %s", controlURL)
	return nil
}

// AttachTarget binds a page host to the given CDP target and returns it.
// Re-attaching to a tracked target returns the existing host.
func (b *Browser) AttachTarget(ctx context.Context, targetContextID string) (*Host, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil, fmt.Errorf("browser not connected")
	}
	if h, ok := b.hosts[targetContextID]; ok {
		return h, nil
	}

	page, err := b.browser.PageFromTarget(proto.TargetTargetID(targetContextID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetContextID, err)
	}
	host, err := Attach(ctx, page)
	if err != nil {
		return nil, err
	}
	b.hosts[targetContextID] = host
	return host, nil
}

// DetachTarget closes and forgets the host for a target.
func (b *Browser) DetachTarget(targetContextID string) {
	b.mu.Lock()
	host, ok := b.hosts[targetContextID]
	if ok {
		delete(b.hosts, targetContextID)
	}
	b.mu.Unlock()
	if ok {
		host.Close()
	}
}

// Resolve implements the coordinator's capture-handle resolution: for tab mode
// the handle is the CDP target id itself; window mode resolves the window id
// owning the target.
func (b *Browser) Resolve(ctx context.Context, targetContextID string, mode session.Mode) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return "", fmt.Errorf("browser not connected")
	}

	switch mode {
	case session.ModeTab:
		return targetContextID, nil
	case session.ModeWindow:
		page, err := b.browser.PageFromTarget(proto.TargetTargetID(targetContextID))
		if err != nil {
			return "", fmt.Errorf("resolve target %s: %w", targetContextID, err)
		}
		res, err := proto.BrowserGetWindowForTarget{TargetID: page.TargetID}.Call(page)
		if err != nil {
			return "", fmt.Errorf("resolve window for %s: %w", targetContextID, err)
		}
		return fmt.Sprintf("window:%d", res.WindowID), nil
	}
	return "", fmt.Errorf("no capture handle for mode %q", mode)
}

// Shutdown closes all hosts and the browser connection.
func (b *Browser) Shutdown() error {
	b.mu.Lock()
	hosts := b.hosts
	b.hosts = make(map[string]*Host)
	browser := b.browser
	b.browser = nil
	b.controlURL = ""
	b.mu.Unlock()

	for _, h := range hosts {
		h.Close()
	}
	if browser != nil {
		return browser.Close()
	}
	return nil
}
