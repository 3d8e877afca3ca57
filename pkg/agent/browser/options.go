package browser

import (
	"time"

	"github.com/entrhq/webrunner/pkg/llm"
	"github.com/entrhq/webrunner/pkg/logging"
)

// Default values for browser sessions.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultViewportWidth    = 1920
	DefaultViewportHeight   = 1080
	DefaultMaxContentLength = 100000 // characters of cleaned HTML sent to the model
	DefaultMaxContentTokens = 12000
	DefaultScreenshotDir    = "screenshots"
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Options configures every session a Manager launches.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport Viewport

	// Timeout bounds each individual page operation
	Timeout time.Duration

	// AllowedDomains restricts navigation to matching hosts. Empty allows all.
	AllowedDomains []string

	// ScreenshotDir receives screenshots taken by navigate actions
	ScreenshotDir string

	// Provider answers extraction prompts. Extract fails permanently without one.
	Provider llm.Provider

	// Tokenizer trims page content to MaxContentTokens. Nil falls back to a
	// character estimate.
	Tokenizer *llm.Tokenizer

	// MaxContentTokens caps the page content included in extraction prompts
	MaxContentTokens int

	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Viewport.Width <= 0 {
		o.Viewport.Width = DefaultViewportWidth
	}
	if o.Viewport.Height <= 0 {
		o.Viewport.Height = DefaultViewportHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = DefaultScreenshotDir
	}
	if o.MaxContentTokens <= 0 {
		o.MaxContentTokens = DefaultMaxContentTokens
	}
	if o.Logger == nil {
		o.Logger = logging.Discard("browser")
	}
	return o
}
