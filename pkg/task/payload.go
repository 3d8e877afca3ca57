package task

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/entrhq/webrunner/pkg/agent"
)

// Payload is the kind-specific part of a task. The set of payloads is
// closed: Scrape, Extract, FillForm and Navigate.
type Payload interface {
	Kind() Kind
	Validate() error
	defaultPriority() Priority
}

// Format is the output shape requested from an extract task.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// Scrape reads the text of elements matching each named selector.
type Scrape struct {
	URL string
	// Selectors maps an output name to a CSS selector.
	Selectors map[string]string
	// WaitFor is an optional selector that must appear before scraping.
	WaitFor string
}

// Extract asks the agent a natural-language question about a page.
type Extract struct {
	URL    string
	Prompt string
	Format Format
}

// FillForm fills form fields and optionally clicks a submit control.
type FillForm struct {
	URL string
	// Fields maps a field selector to the value typed into it.
	Fields map[string]string
	Submit string
}

// Navigate visits URLs in order, running post-load actions along the way.
// Action i runs after URL i loads; actions beyond the last URL run on the
// final page.
type Navigate struct {
	URLs    []string
	Actions []agent.Action
}

func (*Scrape) Kind() Kind   { return KindScrape }
func (*Extract) Kind() Kind  { return KindExtract }
func (*FillForm) Kind() Kind { return KindFillForm }
func (*Navigate) Kind() Kind { return KindNavigate }

func (*Scrape) defaultPriority() Priority   { return PriorityMedium }
func (*Extract) defaultPriority() Priority  { return PriorityHigh }
func (*FillForm) defaultPriority() Priority { return PriorityMedium }
func (*Navigate) defaultPriority() Priority { return PriorityMedium }

func validateURL(field, raw string) error {
	if raw == "" {
		return invalid(field, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(field, "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(field, "url must start with http:// or https://")
	}
	if u.Host == "" {
		return invalid(field, "url has no host")
	}
	return nil
}

func (s *Scrape) Validate() error {
	if err := validateURL("url", s.URL); err != nil {
		return err
	}
	if len(s.Selectors) == 0 {
		return invalid("selectors", "at least one selector is required")
	}
	for name, sel := range s.Selectors {
		if strings.TrimSpace(sel) == "" {
			return invalid("selectors", "selector %q is empty", name)
		}
	}
	return nil
}

func (e *Extract) Validate() error {
	if err := validateURL("url", e.URL); err != nil {
		return err
	}
	if strings.TrimSpace(e.Prompt) == "" {
		return invalid("extraction_prompt", "prompt is required")
	}
	switch e.Format {
	case "", FormatJSON, FormatText, FormatMarkdown:
	default:
		return invalid("output_format", "unsupported format %q", e.Format)
	}
	return nil
}

func (f *FillForm) Validate() error {
	if err := validateURL("url", f.URL); err != nil {
		return err
	}
	if len(f.Fields) == 0 {
		return invalid("form_data", "at least one field is required")
	}
	for sel := range f.Fields {
		if strings.TrimSpace(sel) == "" {
			return invalid("form_data", "field selector is empty")
		}
	}
	return nil
}

func (n *Navigate) Validate() error {
	if len(n.URLs) == 0 {
		return invalid("urls", "at least one url is required")
	}
	for i, u := range n.URLs {
		if err := validateURL(fmt.Sprintf("urls[%d]", i), u); err != nil {
			return err
		}
	}
	for i, a := range n.Actions {
		if err := a.Validate(); err != nil {
			return invalid(fmt.Sprintf("actions[%d]", i), "%v", err)
		}
	}
	return nil
}

func (s *Scrape) run(ctx context.Context, a agent.Agent) (Outcome, error) {
	resp, err := do(ctx, a, agent.Instruction{
		Op:        agent.OpScrape,
		URL:       s.URL,
		Selectors: s.Selectors,
		WaitFor:   s.WaitFor,
	})
	if err != nil {
		return Outcome{}, err
	}

	data, err := normalizeScrape(s.Selectors, resp.Data)
	if err != nil {
		return Outcome{}, Permanent(err)
	}

	found := 0
	for _, texts := range data {
		found += len(texts)
	}
	return Outcome{
		Data:     data,
		Metadata: pageMetadata(resp, map[string]any{"extraction_count": found}),
	}, nil
}

// normalizeScrape turns whatever the agent returned into name -> texts,
// with an entry (possibly empty) for every requested selector name.
func normalizeScrape(selectors map[string]string, raw any) (map[string][]string, error) {
	out := make(map[string][]string, len(selectors))
	for name := range selectors {
		out[name] = []string{}
	}

	switch v := raw.(type) {
	case nil:
		return out, nil
	case map[string][]string:
		for name, texts := range v {
			if _, ok := out[name]; ok {
				out[name] = append([]string{}, texts...)
			}
		}
		return out, nil
	case map[string]string:
		for name, text := range v {
			if _, ok := out[name]; ok {
				out[name] = []string{text}
			}
		}
		return out, nil
	case string:
		return normalizeScrapeJSON(selectors, []byte(v))
	case []byte:
		return normalizeScrapeJSON(selectors, v)
	case map[string]any:
		for name, val := range v {
			if _, ok := out[name]; !ok {
				continue
			}
			texts, err := toStrings(val)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", name, err)
			}
			out[name] = texts
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected scrape response of type %T", raw)
	}
}

func normalizeScrapeJSON(selectors map[string]string, b []byte) (map[string][]string, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode scrape response: %w", err)
	}
	return normalizeScrape(selectors, m)
}

func toStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return []string{t}, nil
	case []string:
		return append([]string{}, t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected text, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected text or list of text, got %T", v)
	}
}

func (e *Extract) run(ctx context.Context, a agent.Agent) (Outcome, error) {
	resp, err := do(ctx, a, agent.Instruction{
		Op:     agent.OpExtract,
		URL:    e.URL,
		Prompt: e.Prompt,
		Format: string(e.format()),
	})
	if err != nil {
		return Outcome{}, err
	}

	data, err := normalizeExtract(e.format(), resp.Data)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Data:     data,
		Metadata: pageMetadata(resp, map[string]any{"prompt": e.Prompt, "output_format": string(e.format())}),
	}, nil
}

// format returns the requested output shape, JSON when unset.
func (e *Extract) format() Format {
	if e.Format == "" {
		return FormatJSON
	}
	return e.Format
}

func normalizeExtract(format Format, raw any) (any, error) {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	case nil:
		text = ""
	default:
		if format == FormatJSON {
			return v, nil
		}
		text = fmt.Sprint(v)
	}

	text = strings.TrimSpace(text)
	if format != FormatJSON {
		return text, nil
	}

	text = stripCodeFence(text)
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		// Model output varies between calls, so another attempt may succeed.
		return nil, Transientf("extraction output is not valid JSON: %w", err)
	}
	return out, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (f *FillForm) run(ctx context.Context, a agent.Agent) (Outcome, error) {
	resp, err := do(ctx, a, agent.Instruction{
		Op:     agent.OpFillForm,
		URL:    f.URL,
		Fields: f.Fields,
		Submit: f.Submit,
	})
	if err != nil {
		return Outcome{}, err
	}

	report, err := f.report(resp.Data)
	if err != nil {
		return Outcome{}, Permanent(err)
	}
	if report.NavigationError != "" {
		return Outcome{}, Permanentf("navigation failed after submit: %s", report.NavigationError)
	}
	if len(report.ValidationErrors) > 0 {
		return Outcome{}, Permanentf("form rejected: %s", strings.Join(report.ValidationErrors, "; "))
	}

	return Outcome{
		Data: map[string]any{
			"filled_fields": report.Filled,
			"submitted":     report.Submitted,
		},
		Metadata: pageMetadata(resp, map[string]any{"fields_filled": len(report.Filled)}),
	}, nil
}

func (f *FillForm) report(raw any) (agent.FormReport, error) {
	switch v := raw.(type) {
	case agent.FormReport:
		return v, nil
	case *agent.FormReport:
		if v != nil {
			return *v, nil
		}
	case nil:
	default:
		return agent.FormReport{}, fmt.Errorf("unexpected form response of type %T", raw)
	}

	// No report means every field was filled and the submit, if any, went through.
	filled := make([]string, 0, len(f.Fields))
	for sel := range f.Fields {
		filled = append(filled, sel)
	}
	sort.Strings(filled)
	return agent.FormReport{Filled: filled, Submitted: f.Submit != ""}, nil
}

func (n *Navigate) run(ctx context.Context, a agent.Agent) (Outcome, error) {
	visited := make([]string, 0, len(n.URLs))
	pages := make([]map[string]any, 0, len(n.URLs))
	completed := 0

	for i, u := range n.URLs {
		resp, err := do(ctx, a, agent.Instruction{Op: agent.OpVisit, URL: u})
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to visit %s: %w", u, err)
		}
		visited = append(visited, u)
		page := map[string]any{"url": u, "title": resp.Title}
		if resp.Data != nil {
			page["data"] = resp.Data
		}
		pages = append(pages, page)

		for j, act := range n.actionsAfter(i) {
			act := act
			if _, err := a.Do(ctx, agent.Instruction{Op: agent.OpAction, Action: &act}); err != nil {
				return Outcome{}, fmt.Errorf("action %d (%s) failed on %s: %w", j, act.Type, u, err)
			}
			completed++
		}

		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{
		Data: map[string]any{
			"visited_pages":     visited,
			"page_data":         pages,
			"actions_completed": completed,
		},
		Metadata: map[string]any{"pages_visited": len(visited)},
	}, nil
}

// actionsAfter returns the actions to run once URL i has loaded.
func (n *Navigate) actionsAfter(i int) []agent.Action {
	if i >= len(n.Actions) {
		return nil
	}
	if i == len(n.URLs)-1 {
		return n.Actions[i:]
	}
	return n.Actions[i : i+1]
}

func pageMetadata(resp *agent.Response, extra map[string]any) map[string]any {
	md := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		md[k] = v
	}
	if resp.URL != "" {
		md["url"] = resp.URL
	}
	if resp.Title != "" {
		md["title"] = resp.Title
	}
	return md
}

func do(ctx context.Context, a agent.Agent, in agent.Instruction) (*agent.Response, error) {
	resp, err := a.Do(ctx, in)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &agent.Response{}
	}
	return resp, nil
}
