package task

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoAgent returns the same data for every instruction and records what it saw.
type echoAgent struct {
	data  any
	err   error
	calls []agent.Instruction
}

func (a *echoAgent) Do(_ context.Context, in agent.Instruction) (*agent.Response, error) {
	a.calls = append(a.calls, in)
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Response{Data: a.data, URL: in.URL, Title: "Example"}, nil
}

func TestScrapeExecute(t *testing.T) {
	tests := []struct {
		name string
		data any
		want map[string][]string
	}{
		{
			name: "typed map",
			data: map[string][]string{"q": {"hello"}},
			want: map[string][]string{"q": {"hello"}, "author": {}},
		},
		{
			name: "decoded json map",
			data: map[string]any{"q": []any{"hello", "world"}, "author": "Ada"},
			want: map[string][]string{"q": {"hello", "world"}, "author": {"Ada"}},
		},
		{
			name: "raw json",
			data: `{"q": ["hello"], "unrequested": ["x"]}`,
			want: map[string][]string{"q": {"hello"}, "author": {}},
		},
		{
			name: "nothing found",
			data: nil,
			want: map[string][]string{"q": {}, "author": {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk, err := New("t1", &Scrape{
				URL:       "https://example.com",
				Selectors: map[string]string{"q": ".quote", "author": ".author"},
				WaitFor:   ".quote",
			})
			require.NoError(t, err)

			a := &echoAgent{data: tt.data}
			out, err := tk.Execute(context.Background(), a)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Data)

			require.Len(t, a.calls, 1)
			assert.Equal(t, agent.OpScrape, a.calls[0].Op)
			assert.Equal(t, ".quote", a.calls[0].WaitFor)
		})
	}
}

func TestScrapeExecuteMalformedResponse(t *testing.T) {
	tk, err := New("t1", &Scrape{URL: "https://example.com", Selectors: map[string]string{"q": ".quote"}})
	require.NoError(t, err)

	_, err = tk.Execute(context.Background(), &echoAgent{data: 42})
	require.Error(t, err)
	assert.Equal(t, ErrorPermanent, Classify(err))
}

func TestExtractExecute(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		data     any
		want     any
		wantKind ErrorKind
	}{
		{
			name:   "json string",
			format: FormatJSON,
			data:   `{"price": 10}`,
			want:   map[string]any{"price": float64(10)},
		},
		{
			name:   "fenced json",
			format: FormatJSON,
			data:   "```json\n[1, 2]\n```",
			want:   []any{float64(1), float64(2)},
		},
		{
			name:   "structured data passes through",
			format: FormatJSON,
			data:   map[string]any{"ok": true},
			want:   map[string]any{"ok": true},
		},
		{
			name:     "invalid json is transient",
			format:   FormatJSON,
			data:     "I could not find a price",
			wantKind: ErrorTransient,
		},
		{
			name:   "text is trimmed",
			format: FormatText,
			data:   "  the answer \n",
			want:   "the answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk, err := New("e1", &Extract{URL: "https://example.com", Prompt: "price?", Format: tt.format})
			require.NoError(t, err)

			out, err := tk.Execute(context.Background(), &echoAgent{data: tt.data})
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Data)
			assert.Equal(t, "https://example.com", out.Metadata["url"])
		})
	}
}

func TestFillFormExecute(t *testing.T) {
	payload := &FillForm{
		URL:    "https://example.com/login",
		Fields: map[string]string{"#user": "ada", "#pass": "secret"},
		Submit: "button[type=submit]",
	}

	t.Run("no report means success", func(t *testing.T) {
		tk, err := New("f1", payload)
		require.NoError(t, err)

		out, err := tk.Execute(context.Background(), &echoAgent{})
		require.NoError(t, err)
		data := out.Data.(map[string]any)
		assert.Equal(t, []string{"#pass", "#user"}, data["filled_fields"])
		assert.Equal(t, true, data["submitted"])
	})

	t.Run("validation errors are permanent", func(t *testing.T) {
		tk, err := New("f1", payload)
		require.NoError(t, err)

		report := agent.FormReport{Filled: []string{"#user"}, ValidationErrors: []string{"password too short"}}
		_, err = tk.Execute(context.Background(), &echoAgent{data: report})
		require.Error(t, err)
		assert.Equal(t, ErrorPermanent, Classify(err))
		assert.Contains(t, err.Error(), "password too short")
	})

	t.Run("navigation error is permanent", func(t *testing.T) {
		tk, err := New("f1", payload)
		require.NoError(t, err)

		report := &agent.FormReport{Submitted: true, NavigationError: "403 Forbidden"}
		_, err = tk.Execute(context.Background(), &echoAgent{data: report})
		require.Error(t, err)
		assert.Equal(t, ErrorPermanent, Classify(err))
	})
}

func TestNavigateExecute(t *testing.T) {
	payload := &Navigate{
		URLs: []string{"https://a.example", "https://b.example"},
		Actions: []agent.Action{
			{Type: agent.ActionWait, Duration: time.Millisecond},
			{Type: agent.ActionScreenshot, Filename: "b.png"},
			{Type: agent.ActionClick, Selector: "#more"},
		},
	}

	t.Run("actions pair with pages", func(t *testing.T) {
		tk, err := New("n1", payload)
		require.NoError(t, err)

		a := &echoAgent{}
		out, err := tk.Execute(context.Background(), a)
		require.NoError(t, err)

		var ops []string
		for _, in := range a.calls {
			if in.Op == agent.OpVisit {
				ops = append(ops, "visit "+in.URL)
			} else {
				ops = append(ops, string(in.Action.Type))
			}
		}
		assert.Equal(t, []string{
			"visit https://a.example",
			"wait",
			"visit https://b.example",
			"screenshot",
			"click",
		}, ops)

		data := out.Data.(map[string]any)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, data["visited_pages"])
		assert.Equal(t, 3, data["actions_completed"])
	})

	t.Run("first failing action aborts the rest", func(t *testing.T) {
		tk, err := New("n1", payload)
		require.NoError(t, err)

		var calls []agent.Instruction
		a := agent.Func(func(_ context.Context, in agent.Instruction) (*agent.Response, error) {
			calls = append(calls, in)
			if in.Op == agent.OpAction && in.Action.Type == agent.ActionWait {
				return nil, Permanentf("page crashed")
			}
			return &agent.Response{}, nil
		})

		_, err = tk.Execute(context.Background(), a)
		require.Error(t, err)
		assert.Equal(t, ErrorPermanent, Classify(err))
		assert.Len(t, calls, 2, "second url must not be visited")
	})
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	tk, err := New("t1", &Scrape{URL: "https://example.com", Selectors: map[string]string{"q": ".q"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &echoAgent{}
	_, err = tk.Execute(ctx, a)
	assert.Equal(t, ErrorCancelled, Classify(err))
	assert.Empty(t, a.calls)
}
