package task

import (
	"fmt"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
)

// Descriptor is the external, file- and wire-friendly description of a task.
// Type-specific fields are flat, matching the batch file format.
type Descriptor struct {
	Type        Kind           `json:"type" yaml:"type"`
	TaskID      string         `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    *Priority      `json:"priority,omitempty" yaml:"priority,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Timeout     float64        `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// scrape, extract, fill_form
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// scrape
	Selectors       map[string]string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	WaitForSelector string            `json:"wait_for_selector,omitempty" yaml:"wait_for_selector,omitempty"`

	// extract
	ExtractionPrompt string `json:"extraction_prompt,omitempty" yaml:"extraction_prompt,omitempty"`
	OutputFormat     string `json:"output_format,omitempty" yaml:"output_format,omitempty"`

	// fill_form
	FormData       map[string]any `json:"form_data,omitempty" yaml:"form_data,omitempty"`
	SubmitSelector string         `json:"submit_selector,omitempty" yaml:"submit_selector,omitempty"`

	// navigate
	URLs    []string           `json:"urls,omitempty" yaml:"urls,omitempty"`
	Actions []ActionDescriptor `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ActionDescriptor is the external form of a navigation action.
// Duration is expressed in seconds.
type ActionDescriptor struct {
	Type     agent.ActionType `json:"type" yaml:"type"`
	Selector string           `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string           `json:"value,omitempty" yaml:"value,omitempty"`
	Duration float64          `json:"duration,omitempty" yaml:"duration,omitempty"`
	Filename string           `json:"filename,omitempty" yaml:"filename,omitempty"`
}

// Task builds a validated Task from the descriptor.
func (d Descriptor) Task() (*Task, error) {
	var p Payload
	switch d.Type {
	case KindScrape:
		p = &Scrape{URL: d.URL, Selectors: d.Selectors, WaitFor: d.WaitForSelector}
	case KindExtract:
		format := Format(d.OutputFormat)
		if format == "" {
			format = FormatJSON
		}
		p = &Extract{URL: d.URL, Prompt: d.ExtractionPrompt, Format: format}
	case KindFillForm:
		p = &FillForm{URL: d.URL, Fields: stringifyFields(d.FormData), Submit: d.SubmitSelector}
	case KindNavigate:
		var actions []agent.Action
		for _, a := range d.Actions {
			actions = append(actions, a.action())
		}
		p = &Navigate{URLs: d.URLs, Actions: actions}
	case "":
		return nil, &ValidationError{TaskID: d.TaskID, Field: "type", Reason: "task type is required"}
	default:
		return nil, &ValidationError{TaskID: d.TaskID, Field: "type", Reason: fmt.Sprintf("unknown task type %q", d.Type)}
	}

	opts := []Option{
		WithDescription(d.Description),
		WithMaxAttempts(d.MaxAttempts),
		WithTimeout(time.Duration(d.Timeout * float64(time.Second))),
	}
	if d.Priority != nil {
		opts = append(opts, WithPriority(*d.Priority))
	}
	if len(d.Metadata) > 0 {
		opts = append(opts, WithMetadata(d.Metadata))
	}
	return New(d.TaskID, p, opts...)
}

// Describe renders a task back into its external form.
func Describe(t *Task) Descriptor {
	prio := t.Priority
	d := Descriptor{
		Type:        t.Kind(),
		TaskID:      t.ID,
		Description: t.Description,
		Priority:    &prio,
		MaxAttempts: t.MaxAttempts,
		Timeout:     t.Timeout.Seconds(),
		Metadata:    t.Metadata,
	}

	switch p := t.Payload.(type) {
	case *Scrape:
		d.URL = p.URL
		d.Selectors = p.Selectors
		d.WaitForSelector = p.WaitFor
	case *Extract:
		d.URL = p.URL
		d.ExtractionPrompt = p.Prompt
		d.OutputFormat = string(p.format())
	case *FillForm:
		d.URL = p.URL
		d.SubmitSelector = p.Submit
		d.FormData = make(map[string]any, len(p.Fields))
		for sel, v := range p.Fields {
			d.FormData[sel] = v
		}
	case *Navigate:
		d.URLs = p.URLs
		for _, a := range p.Actions {
			d.Actions = append(d.Actions, ActionDescriptor{
				Type:     a.Type,
				Selector: a.Selector,
				Value:    a.Value,
				Duration: a.Duration.Seconds(),
				Filename: a.Filename,
			})
		}
	}
	return d
}

// FromDescriptors builds tasks in order, stopping at the first invalid one.
func FromDescriptors(ds []Descriptor) ([]*Task, error) {
	tasks := make([]*Task, 0, len(ds))
	for i, d := range ds {
		t, err := d.Task()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (a ActionDescriptor) action() agent.Action {
	return agent.Action{
		Type:     a.Type,
		Selector: a.Selector,
		Value:    a.Value,
		Duration: time.Duration(a.Duration * float64(time.Second)),
		Filename: a.Filename,
	}
}

// stringifyFields renders form values as the text typed into each field.
func stringifyFields(in map[string]any) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for sel, v := range in {
		switch t := v.(type) {
		case string:
			out[sel] = t
		case nil:
			out[sel] = ""
		default:
			out[sel] = fmt.Sprint(t)
		}
	}
	return out
}
