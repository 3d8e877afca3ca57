package browser

import (
	"fmt"
	"strings"

	"github.com/entrhq/webrunner/pkg/llm"
)

const extractionSystemPrompt = `You extract information from web pages.
You are given the cleaned HTML of a page and a request describing what to extract.
Only use information present in the page. If something requested is missing, use null
(for JSON) or say it is not present.`

var formatInstructions = map[string]string{
	"json":     "Respond with a single valid JSON value and nothing else. Do not wrap it in a code fence.",
	"text":     "Respond with plain text only, no markup.",
	"markdown": "Respond in Markdown.",
}

// extractionMessages builds the conversation for an extraction request.
func extractionMessages(prompt, format, pageURL string, page *cleanedPage, content string) []*llm.Message {
	instructions, ok := formatInstructions[format]
	if !ok {
		instructions = formatInstructions["json"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\n", prompt)
	fmt.Fprintf(&b, "Output format: %s\n\n", instructions)
	fmt.Fprintf(&b, "Page URL: %s\n", pageURL)
	if page.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", page.Title)
	}
	if page.Description != "" {
		fmt.Fprintf(&b, "Page description: %s\n", page.Description)
	}
	if page.Truncated {
		b.WriteString("Note: the page content below was truncated.\n")
	}
	b.WriteString("\n<page>\n")
	b.WriteString(content)
	b.WriteString("\n</page>")

	return []*llm.Message{
		llm.NewSystemMessage(extractionSystemPrompt),
		llm.NewUserMessage(b.String()),
	}
}
