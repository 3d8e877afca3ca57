// Package agent defines the contract between tasks and the automation
// backend that drives a live browser session.
//
// A task never talks to a browser directly. It hands an Instruction to an
// Agent and normalizes the Response it gets back. The Agent decides how the
// instruction is carried out: the browser subpackage drives playwright, tests
// use a Func stub.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionLost marks failures after which the agent's browser session is
// unusable. The pool replaces such an agent before its slot runs again.
var ErrSessionLost = errors.New("browser session lost")

// Op identifies the kind of work an Instruction asks for.
type Op string

const (
	// OpScrape reads text from every element matching each named selector.
	OpScrape Op = "scrape"
	// OpExtract asks the agent to answer a natural-language prompt about a page.
	OpExtract Op = "extract"
	// OpFillForm fills form fields and optionally submits the form.
	OpFillForm Op = "fill_form"
	// OpVisit loads a single URL.
	OpVisit Op = "visit"
	// OpAction performs one post-load action on the current page.
	OpAction Op = "action"
)

// ActionType names a post-load page action.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionFill       ActionType = "fill"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
)

// Action is a single step performed after a page has loaded.
type Action struct {
	Type     ActionType    `json:"type" yaml:"type"`
	Selector string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string        `json:"value,omitempty" yaml:"value,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Filename string        `json:"filename,omitempty" yaml:"filename,omitempty"`
}

// Validate reports whether the action carries the fields its type needs.
func (a Action) Validate() error {
	switch a.Type {
	case ActionClick:
		if a.Selector == "" {
			return fmt.Errorf("click action requires a selector")
		}
	case ActionFill:
		if a.Selector == "" {
			return fmt.Errorf("fill action requires a selector")
		}
	case ActionWait:
		if a.Duration < 0 {
			return fmt.Errorf("wait duration cannot be negative")
		}
	case ActionScreenshot:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Instruction is the unit of work handed to an Agent. Only the fields
// relevant to Op are populated.
type Instruction struct {
	Op Op

	// URL is the page to load before doing anything else. Empty for OpAction,
	// which applies to whatever page is currently loaded.
	URL string

	// Scrape
	Selectors map[string]string
	WaitFor   string

	// Extract
	Prompt string
	Format string

	// Fill form
	Fields map[string]string
	Submit string

	// Action
	Action *Action
}

// Response is what an Agent returns for a successful instruction.
// Data is deliberately loose; tasks normalize it per kind.
type Response struct {
	Data  any
	URL   string
	Title string
}

// FormReport is the Response.Data an agent returns for OpFillForm.
type FormReport struct {
	Filled           []string `json:"filled_fields"`
	Submitted        bool     `json:"submitted"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	NavigationError  string   `json:"navigation_error,omitempty"`
}

// Agent executes instructions against a browser session. Implementations
// must honor ctx cancellation at their suspension points.
type Agent interface {
	Do(ctx context.Context, in Instruction) (*Response, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, in Instruction) (*Response, error)

// Do calls f.
func (f Func) Do(ctx context.Context, in Instruction) (*Response, error) {
	return f(ctx, in)
}
