// Package batch reads and writes task files.
//
// A task file is a list of task descriptors, either as a top-level array or
// under a "tasks" key. JSON files may contain comments and trailing commas.
// Files ending in .yaml or .yml are read as YAML.
package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/webrunner/pkg/task"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a task file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrEmpty is returned for a task file that describes no tasks.
var ErrEmpty = errors.New("task file contains no tasks")

// FormatOf picks the format from the file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type wrapped struct {
	Tasks []task.Descriptor `json:"tasks" yaml:"tasks"`
}

// Parse decodes descriptors from data.
func Parse(data []byte, format Format) ([]task.Descriptor, error) {
	var (
		ds  []task.Descriptor
		err error
	)
	switch format {
	case FormatYAML:
		ds, err = parseYAML(data)
	case FormatJSON:
		ds, err = parseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported task file format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, ErrEmpty
	}
	return ds, nil
}

func parseJSON(data []byte) ([]task.Descriptor, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	std = bytes.TrimSpace(std)
	if len(std) == 0 {
		return nil, ErrEmpty
	}

	if std[0] == '[' {
		var ds []task.Descriptor
		if err := decodeJSON(std, &ds); err != nil {
			return nil, err
		}
		return ds, nil
	}

	var w wrapped
	if err := decodeJSON(std, &w); err != nil {
		return nil, err
	}
	return w.Tasks, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode tasks: %w", err)
	}
	return nil
}

func parseYAML(data []byte) ([]task.Descriptor, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, ErrEmpty
	}

	var target any
	var ds []task.Descriptor
	var w wrapped
	if node.Content[0].Kind == yaml.SequenceNode {
		target = &ds
	} else {
		target = &w
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		return ds, nil
	}
	return w.Tasks, nil
}

// Load reads a task file and builds its tasks. The whole file is rejected if
// any descriptor is invalid.
func Load(path string) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	ds, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tasks, err := task.FromDescriptors(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// Write saves tasks as a task file that Load reads back into equivalent
// tasks.
func Write(path string, tasks []*task.Task) error {
	ds := make([]task.Descriptor, 0, len(tasks))
	for _, t := range tasks {
		ds = append(ds, task.Describe(t))
	}

	var (
		data []byte
		err  error
	)
	switch FormatOf(path) {
	case FormatYAML:
		data, err = yaml.Marshal(ds)
	default:
		data, err = json.MarshalIndent(ds, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
