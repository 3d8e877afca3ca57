package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/llm/openai"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/playwright-community/playwright-go"
)

// Network failures reported by chromium that usually clear up on their own.
var transientNetErrors = []string{
	"net::ERR_CONNECTION_RESET",
	"net::ERR_CONNECTION_REFUSED",
	"net::ERR_CONNECTION_CLOSED",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_TIMED_OUT",
	"net::ERR_NETWORK_CHANGED",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_EMPTY_RESPONSE",
}

// Messages playwright reports once the browser or its page is gone.
var sessionLostErrors = []string{
	"has been closed",
	"browser has disconnected",
	"Browser closed",
	"Target crashed",
}

// classify wraps err with what was being attempted and tags it transient or
// permanent. Cancellation passes through untouched. Failures that leave the
// session dead also wrap agent.ErrSessionLost.
func classify(what string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", what, err)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, task.ErrCancelled):
		return wrapped
	case errors.Is(err, playwright.ErrTargetClosed):
		return task.Transient(fmt.Errorf("%w: %w", wrapped, agent.ErrSessionLost))
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, playwright.ErrTimeout):
		return task.Transient(wrapped)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return task.Transient(wrapped)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return task.Transient(wrapped)
		}
		return task.Permanent(wrapped)
	}

	msg := err.Error()
	for _, marker := range sessionLostErrors {
		if strings.Contains(msg, marker) {
			return task.Transient(fmt.Errorf("%w: %w", wrapped, agent.ErrSessionLost))
		}
	}
	for _, marker := range transientNetErrors {
		if strings.Contains(msg, marker) {
			return task.Transient(wrapped)
		}
	}
	if strings.Contains(strings.ToLower(msg), "timeout") {
		return task.Transient(wrapped)
	}
	return task.Permanent(wrapped)
}
