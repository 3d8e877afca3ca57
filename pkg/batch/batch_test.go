package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("tasks.yaml"))
	assert.Equal(t, FormatYAML, FormatOf("dir/TASKS.YML"))
	assert.Equal(t, FormatJSON, FormatOf("tasks.json"))
	assert.Equal(t, FormatJSON, FormatOf("tasks.jsonc"))
	assert.Equal(t, FormatJSON, FormatOf("tasks"))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantIDs []string
	}{
		{
			name: "json array with comments",
			file: "tasks.json",
			content: `[
				// quotes from the first page
				{"type": "scrape", "task_id": "quotes", "url": "https://quotes.example", "selectors": {"quote": ".text"}},
				/* extraction runs first */
				{"type": "extract", "task_id": "summary", "url": "https://quotes.example", "extraction_prompt": "summarise",},
			]`,
			wantIDs: []string{"quotes", "summary"},
		},
		{
			name: "json object with tasks key",
			file: "tasks.json",
			content: `{"tasks": [
				{"type": "navigate", "task_id": "nav", "urls": ["https://a.example", "https://b.example"],
				 "actions": [{"type": "click", "selector": "#more"}, {"type": "wait", "duration": 0.5}]}
			]}`,
			wantIDs: []string{"nav"},
		},
		{
			name: "yaml sequence",
			file: "tasks.yaml",
			content: `
- type: fill_form
  task_id: login
  priority: critical
  url: https://app.example/login
  form_data:
    "#user": alice
    "#remember": true
  submit_selector: button[type=submit]
- type: scrape
  task_id: home
  url: https://app.example
  selectors:
    title: h1
`,
			wantIDs: []string{"login", "home"},
		},
		{
			name: "yaml mapping with tasks key",
			file: "tasks.yml",
			content: `
tasks:
  - type: extract
    task_id: prices
    url: https://shop.example
    extraction_prompt: list the prices
    output_format: markdown
`,
			wantIDs: []string{"prices"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			ids := make([]string, 0, len(tasks))
			for _, tk := range tasks {
				ids = append(ids, tk.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestLoadDecodesFields(t *testing.T) {
	tasks, err := Load(writeFile(t, "tasks.yaml", `
- type: fill_form
  task_id: login
  priority: critical
  max_attempts: 5
  timeout: 2.5
  url: https://app.example/login
  form_data:
    "#user": alice
    "#remember": true
`))
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tk := tasks[0]
	assert.Equal(t, task.PriorityCritical, tk.Priority)
	assert.Equal(t, 5, tk.MaxAttempts)
	assert.Equal(t, 2500*time.Millisecond, tk.Timeout)

	form, ok := tk.Payload.(*task.FillForm)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"#user": "alice", "#remember": "true"}, form.Fields)
	assert.Empty(t, form.Submit)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"commented empty array", "tasks.json", "[\n  // nothing yet\n]", "no tasks"},
		{"empty array", "tasks.json", "[]", "no tasks"},
		{"empty yaml", "tasks.yaml", "", "no tasks"},
		{"malformed json", "tasks.json", `[{"type": "scrape"`, "invalid JSON"},
		{"unknown json field", "tasks.json", `[{"type": "scrape", "urll": "https://x.example"}]`, "unknown field"},
		{"unknown yaml field", "tasks.yaml", "- type: scrape\n  urll: https://x.example\n", "urll"},
		{"unknown type", "tasks.json", `[{"type": "crawl", "url": "https://x.example"}]`, "unknown task type"},
		{"invalid payload", "tasks.json", `[{"type": "scrape", "url": "https://x.example"}]`, "task 0"},
		{"bad priority", "tasks.yaml", "- type: scrape\n  priority: urgent\n", "urgent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestWriteThenLoad(t *testing.T) {
	mustTask := func(id string, p task.Payload, opts ...task.Option) *task.Task {
		tk, err := task.New(id, p, opts...)
		require.NoError(t, err)
		return tk
	}

	tasks := []*task.Task{
		mustTask("scrape", &task.Scrape{
			URL:       "https://quotes.example",
			Selectors: map[string]string{"quote": ".text", "author": ".author"},
			WaitFor:   ".quote",
		}, task.WithMaxAttempts(4), task.WithTimeout(1500*time.Millisecond)),
		mustTask("extract", &task.Extract{
			URL:    "https://quotes.example",
			Prompt: "list the authors",
			Format: task.FormatText,
		}, task.WithDescription("authors")),
		mustTask("form", &task.FillForm{
			URL:    "https://app.example/login",
			Fields: map[string]string{"#user": "alice"},
			Submit: "#go",
		}, task.WithPriority(task.PriorityLow)),
		mustTask("nav", &task.Navigate{
			URLs: []string{"https://a.example", "https://b.example"},
			Actions: []agent.Action{
				{Type: agent.ActionClick, Selector: "#next"},
				{Type: agent.ActionWait, Duration: 500 * time.Millisecond},
				{Type: agent.ActionScreenshot, Filename: "b.png"},
			},
		}),
	}

	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Write(path, tasks))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tasks, loaded)
		})
	}
}
