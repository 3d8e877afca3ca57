package browser

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/llm"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage serves canned content and records the calls made on it.
type fakePage struct {
	url     string
	html    string
	texts   map[string][]string
	missing map[string]bool // selectors that time out
	gotoErr error

	filled      map[string]string
	clicked     []string
	screenshots []string
	timeouts    []float64
	closed      bool
}

func newFakePage() *fakePage {
	return &fakePage{
		texts:   make(map[string][]string),
		missing: make(map[string]bool),
		filled:  make(map[string]string),
	}
}

func (p *fakePage) Goto(url string, timeout float64) error {
	p.timeouts = append(p.timeouts, timeout)
	if p.gotoErr != nil {
		return p.gotoErr
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitFor(selector string, _ float64) error {
	if p.missing[selector] {
		return playwright.ErrTimeout
	}
	return nil
}

func (p *fakePage) Texts(selector string) ([]string, error) {
	return p.texts[selector], nil
}

func (p *fakePage) Content() (string, error) { return p.html, nil }
func (p *fakePage) Title() string            { return "Fake Page" }
func (p *fakePage) URL() string              { return p.url }

func (p *fakePage) Fill(selector, value string, _ float64) error {
	if p.missing[selector] {
		return errors.New("timeout: waiting for selector " + selector)
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Click(selector string, _ float64) error {
	if p.missing[selector] {
		return playwright.ErrTimeout
	}
	p.clicked = append(p.clicked, selector)
	return nil
}

func (p *fakePage) WaitForLoad(float64) error { return nil }

func (p *fakePage) Screenshot(path string) error {
	p.screenshots = append(p.screenshots, path)
	return nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

// fakeProvider answers every completion with a fixed reply.
type fakeProvider struct {
	reply    string
	err      error
	messages []*llm.Message
}

func (f *fakeProvider) StreamCompletion(context.Context, []*llm.Message) (<-chan *llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) Complete(_ context.Context, messages []*llm.Message) (*llm.Message, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Message{Role: llm.RoleAssistant, Content: f.reply}, nil
}

func (f *fakeProvider) GetModel() string { return "fake" }

func testSession(t *testing.T, p *fakePage, opts Options) *Session {
	t.Helper()
	opts = opts.withDefaults()
	guard, err := NewDomainGuard(opts.AllowedDomains)
	require.NoError(t, err)
	return newSession(0, p, guard, opts)
}

func TestSessionScrape(t *testing.T) {
	p := newFakePage()
	p.texts[".quote"] = []string{"Be yourself.", "So it goes."}
	s := testSession(t, p, Options{})

	resp, err := s.Do(context.Background(), agent.Instruction{
		Op:        agent.OpScrape,
		URL:       "https://quotes.toscrape.com",
		Selectors: map[string]string{"quotes": ".quote", "authors": ".author"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"quotes":  {"Be yourself.", "So it goes."},
		"authors": nil,
	}, resp.Data)
	assert.Equal(t, "https://quotes.toscrape.com", resp.URL)
	assert.Equal(t, "Fake Page", resp.Title)
}

func TestSessionScrapeThroughTask(t *testing.T) {
	p := newFakePage()
	p.texts["h1"] = []string{"Example Domain"}
	s := testSession(t, p, Options{})

	tk, err := task.New("t1", &task.Scrape{
		URL:       "https://example.com",
		Selectors: map[string]string{"heading": "h1", "links": "a"},
	})
	require.NoError(t, err)

	out, err := tk.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"heading": {"Example Domain"}, "links": {}}, out.Data)
}

func TestSessionWaitForMissingIsTransient(t *testing.T) {
	p := newFakePage()
	p.missing["#late"] = true
	s := testSession(t, p, Options{})

	_, err := s.Do(context.Background(), agent.Instruction{
		Op:        agent.OpScrape,
		URL:       "https://example.com",
		Selectors: map[string]string{"x": "#late"},
		WaitFor:   "#late",
	})
	require.Error(t, err)
	assert.Equal(t, task.ErrorTransient, task.Classify(err))
}

func TestSessionDomainGuard(t *testing.T) {
	p := newFakePage()
	s := testSession(t, p, Options{AllowedDomains: []string{"example.com"}})

	_, err := s.Do(context.Background(), agent.Instruction{Op: agent.OpVisit, URL: "https://evil.net"})
	require.Error(t, err)
	assert.Equal(t, task.ErrorPermanent, task.Classify(err))
	assert.Empty(t, p.url, "blocked urls are never loaded")

	_, err = s.Do(context.Background(), agent.Instruction{Op: agent.OpVisit, URL: "https://www.example.com"})
	assert.NoError(t, err)
}

func TestSessionNavigationErrors(t *testing.T) {
	p := newFakePage()
	p.gotoErr = errors.New("net::ERR_CONNECTION_RESET")
	s := testSession(t, p, Options{})

	_, err := s.Do(context.Background(), agent.Instruction{Op: agent.OpVisit, URL: "https://example.com"})
	assert.Equal(t, task.ErrorTransient, task.Classify(err))

	p.gotoErr = errors.New("net::ERR_CERT_AUTHORITY_INVALID")
	_, err = s.Do(context.Background(), agent.Instruction{Op: agent.OpVisit, URL: "https://example.com"})
	assert.Equal(t, task.ErrorPermanent, task.Classify(err))
}

func TestSessionTimeoutFollowsDeadline(t *testing.T) {
	p := newFakePage()
	s := testSession(t, p, Options{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Do(ctx, agent.Instruction{Op: agent.OpVisit, URL: "https://example.com"})
	require.NoError(t, err)
	require.Len(t, p.timeouts, 1)
	assert.LessOrEqual(t, p.timeouts[0], 2000.0)
	assert.Greater(t, p.timeouts[0], 0.0)

	cancel()
	_, err = s.Do(ctx, agent.Instruction{Op: agent.OpVisit, URL: "https://example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionExtract(t *testing.T) {
	p := newFakePage()
	p.html = `<html><head><title>Shop</title><script>x()</script></head>
		<body><h1 class="name">Widget</h1><span class="price">$9.99</span></body></html>`
	provider := &fakeProvider{reply: "```json\n{\"name\": \"Widget\", \"price\": 9.99}\n```"}
	s := testSession(t, p, Options{Provider: provider, MaxContentTokens: 1000})

	tk, err := task.New("t1", &task.Extract{
		URL:    "https://shop.example.com/widget",
		Prompt: "Get the product name and price",
	})
	require.NoError(t, err)

	out, err := tk.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Widget", "price": 9.99}, out.Data)

	require.Len(t, provider.messages, 2)
	user := provider.messages[1].Content
	assert.Contains(t, user, "Get the product name and price")
	assert.Contains(t, user, `<h1 class="name">`)
	assert.NotContains(t, user, "x()")
}

func TestSessionExtractErrors(t *testing.T) {
	p := newFakePage()
	p.html = "<p>hi</p>"

	s := testSession(t, p, Options{})
	_, err := s.Do(context.Background(), agent.Instruction{Op: agent.OpExtract, URL: "https://example.com", Prompt: "x"})
	assert.Equal(t, task.ErrorPermanent, task.Classify(err), "no provider configured")

	s = testSession(t, p, Options{Provider: &fakeProvider{err: errors.New("read tcp: i/o timeout")}})
	_, err = s.Do(context.Background(), agent.Instruction{Op: agent.OpExtract, URL: "https://example.com", Prompt: "x"})
	assert.Equal(t, task.ErrorTransient, task.Classify(err))
}

func TestSessionFillForm(t *testing.T) {
	p := newFakePage()
	s := testSession(t, p, Options{})

	tk, err := task.New("t1", &task.FillForm{
		URL:    "https://example.com/login",
		Fields: map[string]string{"#user": "ada", "#pass": "secret"},
		Submit: "button[type=submit]",
	})
	require.NoError(t, err)

	out, err := tk.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"filled_fields": []string{"#pass", "#user"},
		"submitted":     true,
	}, out.Data)
	assert.Equal(t, map[string]string{"#user": "ada", "#pass": "secret"}, p.filled)
	assert.Equal(t, []string{"button[type=submit]"}, p.clicked)
}

func TestSessionFillFormMissingField(t *testing.T) {
	p := newFakePage()
	p.missing["#nope"] = true
	s := testSession(t, p, Options{})

	resp, err := s.Do(context.Background(), agent.Instruction{
		Op:     agent.OpFillForm,
		URL:    "https://example.com/login",
		Fields: map[string]string{"#user": "ada", "#nope": "x"},
		Submit: "#go",
	})
	require.NoError(t, err)
	report := resp.Data.(agent.FormReport)
	assert.Equal(t, []string{"#user"}, report.Filled)
	require.Len(t, report.ValidationErrors, 1)
	assert.True(t, strings.HasPrefix(report.ValidationErrors[0], "#nope"))
	assert.False(t, report.Submitted)
	assert.Empty(t, p.clicked, "form is not submitted after a failed field")
}

func TestSessionActions(t *testing.T) {
	p := newFakePage()
	dir := t.TempDir()
	s := testSession(t, p, Options{ScreenshotDir: dir})

	tk, err := task.New("t1", &task.Navigate{
		URLs: []string{"https://example.com/a", "https://example.com/b"},
		Actions: []agent.Action{
			{Type: agent.ActionClick, Selector: "#next"},
			{Type: agent.ActionWait, Duration: time.Millisecond},
			{Type: agent.ActionFill, Selector: "#q", Value: "go"},
			{Type: agent.ActionScreenshot, Filename: "final.png"},
		},
	})
	require.NoError(t, err)

	out, err := tk.Execute(context.Background(), s)
	require.NoError(t, err)
	data := out.Data.(map[string]any)
	assert.Equal(t, 4, data["actions_completed"])
	assert.Equal(t, []string{"#next"}, p.clicked)
	assert.Equal(t, "go", p.filled["#q"])
	assert.Equal(t, []string{filepath.Join(dir, "final.png")}, p.screenshots)
}

func TestSessionWaitHonorsCancellation(t *testing.T) {
	s := testSession(t, newFakePage(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Do(ctx, agent.Instruction{
		Op:     agent.OpAction,
		Action: &agent.Action{Type: agent.ActionWait, Duration: time.Hour},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSessionRejectsBadInstructions(t *testing.T) {
	s := testSession(t, newFakePage(), Options{})

	_, err := s.Do(context.Background(), agent.Instruction{Op: "teleport"})
	assert.Equal(t, task.ErrorPermanent, task.Classify(err))

	_, err = s.Do(context.Background(), agent.Instruction{Op: agent.OpAction})
	assert.Equal(t, task.ErrorPermanent, task.Classify(err))

	_, err = s.Do(context.Background(), agent.Instruction{
		Op:     agent.OpAction,
		Action: &agent.Action{Type: agent.ActionClick},
	})
	assert.Equal(t, task.ErrorPermanent, task.Classify(err))
}

func TestSessionClose(t *testing.T) {
	p := newFakePage()
	s := testSession(t, p, Options{})
	forgotten := 0
	s.onClose = func() { forgotten++ }

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, p.closed)
	assert.Equal(t, 1, forgotten)
}
