package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/atotto/clipboard"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const highlightStyle = "monokai"

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printHighlighted writes source, syntax highlighted when w is a terminal.
func printHighlighted(w io.Writer, source, lexer string) error {
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		if err := quick.Highlight(w, source, lexer, "terminal256", highlightStyle); err == nil {
			return nil
		}
	}
	_, err := io.WriteString(w, source)
	return err
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data) + "\n", nil
}

func printJSON(w io.Writer, v any) error {
	out, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return printHighlighted(w, out, "json")
}

func printYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	return printHighlighted(w, string(data), "yaml")
}

func copyToClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	return clipboard.WriteAll(text)
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
