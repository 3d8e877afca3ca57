package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/task"
)

// parsePairs parses repeated name=value flags.
func parsePairs(flag string, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--%s %q: expected name=value", flag, v)
		}
		out[name] = value
	}
	return out, nil
}

// parseAction parses one --action flag:
//
//	click:<selector>
//	fill:<selector>=<value>
//	wait:<duration|seconds|selector>
//	screenshot[:<filename>]
func parseAction(s string) (task.ActionDescriptor, error) {
	kind, arg, _ := strings.Cut(s, ":")
	a := task.ActionDescriptor{Type: agent.ActionType(strings.TrimSpace(kind))}

	switch a.Type {
	case agent.ActionClick:
		a.Selector = arg
	case agent.ActionFill:
		sel, value, ok := strings.Cut(arg, "=")
		if !ok {
			return a, fmt.Errorf("--action %q: fill needs <selector>=<value>", s)
		}
		a.Selector, a.Value = sel, value
	case agent.ActionWait:
		if secs, err := strconv.ParseFloat(arg, 64); err == nil {
			a.Duration = secs
		} else if d, err := time.ParseDuration(arg); err == nil {
			a.Duration = d.Seconds()
		} else {
			a.Selector = arg
		}
	case agent.ActionScreenshot:
		a.Filename = arg
	default:
		return a, fmt.Errorf("--action %q: unknown action type %q", s, kind)
	}
	return a, nil
}

// singleTaskFlags are the task fields accepted by the single command.
type singleTaskFlags struct {
	Type      string
	ID        string
	URLs      []string
	Selectors []string
	WaitFor   string
	Prompt    string
	Format    string
	Fields    []string
	Submit    string
	Actions   []string
	Priority  string
	Attempts  int
	Timeout   time.Duration
}

// descriptor turns the flags into a task descriptor.
func (f singleTaskFlags) descriptor() (task.Descriptor, error) {
	d := task.Descriptor{
		Type:             task.Kind(f.Type),
		TaskID:           f.ID,
		MaxAttempts:      f.Attempts,
		Timeout:          f.Timeout.Seconds(),
		WaitForSelector:  f.WaitFor,
		ExtractionPrompt: f.Prompt,
		OutputFormat:     f.Format,
		SubmitSelector:   f.Submit,
	}

	if f.Priority != "" {
		p, err := task.ParsePriority(f.Priority)
		if err != nil {
			return d, err
		}
		d.Priority = &p
	}

	if d.Type == task.KindNavigate {
		d.URLs = f.URLs
	} else {
		if len(f.URLs) > 1 {
			return d, fmt.Errorf("%s tasks take a single --url", f.Type)
		}
		if len(f.URLs) == 1 {
			d.URL = f.URLs[0]
		}
	}

	selectors, err := parsePairs("selector", f.Selectors)
	if err != nil {
		return d, err
	}
	d.Selectors = selectors

	fields, err := parsePairs("field", f.Fields)
	if err != nil {
		return d, err
	}
	if len(fields) > 0 {
		d.FormData = make(map[string]any, len(fields))
		for k, v := range fields {
			d.FormData[k] = v
		}
	}

	for _, s := range f.Actions {
		a, err := parseAction(s)
		if err != nil {
			return d, err
		}
		d.Actions = append(d.Actions, a)
	}
	return d, nil
}
