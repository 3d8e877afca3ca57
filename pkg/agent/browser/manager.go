package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/pool"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the playwright driver and launches one browser session per
// pool slot.
type Manager struct {
	opts  Options
	guard *DomainGuard

	mu          sync.Mutex
	playwright  *playwright.Playwright
	sessions    map[int]*Session
	initialized bool
}

// NewManager creates a manager. Call Initialize before launching sessions.
func NewManager(opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	guard, err := NewDomainGuard(opts.AllowedDomains)
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:     opts,
		guard:    guard,
		sessions: make(map[int]*Session),
	}, nil
}

// Initialize installs (if needed) and starts the playwright driver.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Keep driver output off the terminal so it does not interfere with progress output
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	m.opts.Logger.Infof("Playwright started (headless=%t, viewport=%dx%d)",
		m.opts.Headless, m.opts.Viewport.Width, m.opts.Viewport.Height)
	return nil
}

// NewSession launches a browser for slot.
func (m *Manager) NewSession(ctx context.Context, slot int) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("session manager not initialized")
	}
	if _, exists := m.sessions[slot]; exists {
		return nil, fmt.Errorf("session for slot %d already exists", slot)
	}

	headless := m.opts.Headless
	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	pg, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	pg.SetDefaultTimeout(float64(m.opts.Timeout.Milliseconds()))

	s := newSession(slot, &pwPage{browser: browser, context: bctx, page: pg}, m.guard, m.opts)
	s.onClose = func() { m.forget(slot) }
	m.sessions[slot] = s
	m.opts.Logger.Debugf("Launched browser session for slot %d", slot)
	return s, nil
}

// Factory returns a pool.Factory that launches a session per slot.
func (m *Manager) Factory() pool.Factory {
	return func(ctx context.Context, slot int) (agent.Agent, error) {
		return m.NewSession(ctx, slot)
	}
}

// Sessions returns the number of live sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) forget(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, slot)
}

// Shutdown closes all sessions and stops playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		m.initialized = false
	}
	return errors.Join(errs...)
}
