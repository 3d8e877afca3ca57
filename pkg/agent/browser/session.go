// Package browser implements agent.Agent on top of playwright.
//
// A Manager starts the playwright driver and launches one chromium session
// per executor pool slot. Each Session carries out instructions on its own
// page: loading URLs, reading selectors, filling forms and asking a language
// model to extract data from page content. Browser failures are classified
// so the executor knows whether an attempt is worth retrying.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/llm"
	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/task"
)

// Session is a single browser page bound to a pool slot. A pool hands a
// slot to one task at a time, so a Session is not used concurrently.
type Session struct {
	slot  int
	page  page
	guard *DomainGuard
	opts  Options
	log   *logging.Logger

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

func newSession(slot int, p page, guard *DomainGuard, opts Options) *Session {
	return &Session{
		slot:  slot,
		page:  p,
		guard: guard,
		opts:  opts,
		log:   opts.Logger,
	}
}

// Do carries out one instruction.
func (s *Session) Do(ctx context.Context, in agent.Instruction) (*agent.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch in.Op {
	case agent.OpScrape:
		return s.scrape(ctx, in)
	case agent.OpExtract:
		return s.extract(ctx, in)
	case agent.OpFillForm:
		return s.fillForm(ctx, in)
	case agent.OpVisit:
		if err := s.open(ctx, in.URL); err != nil {
			return nil, err
		}
		return s.response(nil), nil
	case agent.OpAction:
		if in.Action == nil {
			return nil, task.Permanentf("action instruction without an action")
		}
		return s.action(ctx, *in.Action)
	default:
		return nil, task.Permanentf("unsupported instruction %q", in.Op)
	}
}

// Close closes the page and its browser.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.page.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// timeout returns the per-operation timeout in milliseconds, shortened to
// fit the context deadline.
func (s *Session) timeout(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := s.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d <= 0 {
		return 0, context.DeadlineExceeded
	}
	// playwright treats zero as "no timeout"
	return max(float64(d.Milliseconds()), 1), nil
}

func (s *Session) open(ctx context.Context, url string) error {
	if err := s.guard.Check(url); err != nil {
		return task.Permanent(err)
	}
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}

	s.log.Debugf("[slot %d] Navigating to %s", s.slot, url)
	if err := s.page.Goto(url, timeout); err != nil {
		return classify("navigation failed", err)
	}
	return nil
}

func (s *Session) response(data any) *agent.Response {
	return &agent.Response{
		Data:  data,
		URL:   s.page.URL(),
		Title: s.page.Title(),
	}
}

func (s *Session) scrape(ctx context.Context, in agent.Instruction) (*agent.Response, error) {
	if err := s.open(ctx, in.URL); err != nil {
		return nil, err
	}

	if in.WaitFor != "" {
		timeout, err := s.timeout(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.page.WaitFor(in.WaitFor, timeout); err != nil {
			return nil, classify(fmt.Sprintf("wait for %q failed", in.WaitFor), err)
		}
	}

	names := make([]string, 0, len(in.Selectors))
	for name := range in.Selectors {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make(map[string][]string, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		selector := in.Selectors[name]
		texts, err := s.page.Texts(selector)
		if err != nil {
			return nil, classify(fmt.Sprintf("query %q (%s) failed", name, selector), err)
		}
		data[name] = texts
	}

	s.log.Debugf("[slot %d] Scraped %d selectors from %s", s.slot, len(names), in.URL)
	return s.response(data), nil
}

func (s *Session) extract(ctx context.Context, in agent.Instruction) (*agent.Response, error) {
	if s.opts.Provider == nil {
		return nil, task.Permanentf("extraction requires a language model provider; set OPENAI_API_KEY")
	}
	if err := s.open(ctx, in.URL); err != nil {
		return nil, err
	}

	raw, err := s.page.Content()
	if err != nil {
		return nil, classify("failed to read page content", err)
	}
	cleaned, err := cleanHTML(raw, DefaultMaxContentLength)
	if err != nil {
		return nil, task.Permanent(err)
	}

	content, truncated := s.truncate(cleaned.HTML)
	if truncated {
		cleaned.Truncated = true
		s.log.Debugf("[slot %d] Page content truncated to %d tokens", s.slot, s.opts.MaxContentTokens)
	}

	msg, err := s.opts.Provider.Complete(ctx, extractionMessages(in.Prompt, in.Format, in.URL, cleaned, content))
	if err != nil {
		return nil, classify("extraction request failed", err)
	}

	resp := s.response(msg.Content)
	if resp.Title == "" {
		resp.Title = cleaned.Title
	}
	return resp, nil
}

func (s *Session) truncate(content string) (string, bool) {
	if s.opts.Tokenizer != nil {
		return s.opts.Tokenizer.Truncate(content, s.opts.MaxContentTokens)
	}
	return llm.TruncateChars(content, s.opts.MaxContentTokens)
}

func (s *Session) fillForm(ctx context.Context, in agent.Instruction) (*agent.Response, error) {
	if err := s.open(ctx, in.URL); err != nil {
		return nil, err
	}

	selectors := make([]string, 0, len(in.Fields))
	for sel := range in.Fields {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	report := agent.FormReport{Filled: make([]string, 0, len(selectors))}
	for _, sel := range selectors {
		timeout, err := s.timeout(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.page.Fill(sel, in.Fields[sel], timeout); err != nil {
			classified := classify("fill "+sel, err)
			if task.Classify(classified) == task.ErrorCancelled {
				return nil, classified
			}
			report.ValidationErrors = append(report.ValidationErrors, fmt.Sprintf("%s: %v", sel, err))
			continue
		}
		report.Filled = append(report.Filled, sel)
	}

	if len(report.ValidationErrors) > 0 || in.Submit == "" {
		return s.response(report), nil
	}

	timeout, err := s.timeout(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.page.Click(in.Submit, timeout); err != nil {
		report.NavigationError = fmt.Sprintf("submit %s: %v", in.Submit, err)
		return s.response(report), nil
	}
	report.Submitted = true

	if timeout, err = s.timeout(ctx); err != nil {
		return nil, err
	}
	if err := s.page.WaitForLoad(timeout); err != nil {
		report.NavigationError = err.Error()
	}
	return s.response(report), nil
}

func (s *Session) action(ctx context.Context, a agent.Action) (*agent.Response, error) {
	if err := a.Validate(); err != nil {
		return nil, task.Permanent(err)
	}

	switch a.Type {
	case agent.ActionClick:
		timeout, err := s.timeout(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.page.Click(a.Selector, timeout); err != nil {
			return nil, classify("click "+a.Selector, err)
		}
	case agent.ActionFill:
		timeout, err := s.timeout(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.page.Fill(a.Selector, a.Value, timeout); err != nil {
			return nil, classify("fill "+a.Selector, err)
		}
	case agent.ActionWait:
		if a.Selector != "" {
			timeout, err := s.timeout(ctx)
			if err != nil {
				return nil, err
			}
			if err := s.page.WaitFor(a.Selector, timeout); err != nil {
				return nil, classify(fmt.Sprintf("wait for %q failed", a.Selector), err)
			}
			break
		}
		timer := time.NewTimer(a.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case agent.ActionScreenshot:
		path, err := s.screenshotPath(a.Filename)
		if err != nil {
			return nil, task.Permanent(err)
		}
		if err := s.page.Screenshot(path); err != nil {
			return nil, classify("screenshot", err)
		}
		return s.response(map[string]any{"screenshot": path}), nil
	}
	return s.response(nil), nil
}

func (s *Session) screenshotPath(name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("slot%d-%s.png", s.slot, time.Now().Format("20060102-150405.000"))
	}
	if filepath.IsAbs(name) {
		return name, os.MkdirAll(filepath.Dir(name), 0o755)
	}
	path := filepath.Join(s.opts.ScreenshotDir, filepath.Clean(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return path, nil
}
