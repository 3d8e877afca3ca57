// Package task defines the units of browser automation work scheduled by the
// executor, the outcome records they produce, and the error taxonomy used to
// decide whether a failed attempt is retried.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/google/uuid"
)

// Kind identifies a task variant.
type Kind string

const (
	KindScrape   Kind = "scrape"
	KindExtract  Kind = "extract"
	KindFillForm Kind = "fill_form"
	KindNavigate Kind = "navigate"
)

// Kinds lists every task variant.
var Kinds = []Kind{KindScrape, KindExtract, KindFillForm, KindNavigate}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a unit of automation work. Identity, priority and payload are
// fixed at construction. Attempt and Seq are written by the executor only.
type Task struct {
	ID          string
	Description string
	Priority    Priority
	// MaxAttempts caps execution attempts. Zero defers to the executor default.
	MaxAttempts int
	// Timeout bounds a single attempt. Zero means no per-attempt limit.
	Timeout  time.Duration
	Payload  Payload
	Metadata map[string]any

	// Attempt counts execution attempts started so far.
	Attempt int
	// Seq is the FIFO tie-break assigned each time the task is enqueued.
	Seq uint64
}

// Option configures a Task built by New.
type Option func(*Task)

// WithPriority overrides the payload's default priority.
func WithPriority(p Priority) Option {
	return func(t *Task) {
		t.Priority = p
	}
}

// WithMaxAttempts caps the number of execution attempts.
func WithMaxAttempts(n int) Option {
	return func(t *Task) {
		t.MaxAttempts = n
	}
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(t *Task) {
		t.Timeout = d
	}
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) Option {
	return func(t *Task) {
		t.Description = desc
	}
}

// WithMetadata attaches caller metadata that is copied into the result.
func WithMetadata(md map[string]any) Option {
	return func(t *Task) {
		t.Metadata = md
	}
}

// GenerateID returns a short random task id.
func GenerateID() string {
	return "task_" + uuid.New().String()[:8]
}

// New builds and validates a task. An empty id is replaced by GenerateID.
func New(id string, p Payload, opts ...Option) (*Task, error) {
	if id == "" {
		id = GenerateID()
	}
	if p == nil {
		return nil, &ValidationError{TaskID: id, Field: "payload", Reason: "payload is required"}
	}

	t := &Task{
		ID:       id,
		Priority: p.defaultPriority(),
		Payload:  p,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Kind returns the variant of the task's payload.
func (t *Task) Kind() Kind {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.Kind()
}

// Validate checks the task and its payload.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "task_id", Reason: "task id is required"}
	}
	if t.Payload == nil {
		return &ValidationError{TaskID: t.ID, Field: "payload", Reason: "payload is required"}
	}
	if t.MaxAttempts < 0 {
		return &ValidationError{TaskID: t.ID, Field: "max_attempts", Reason: "cannot be negative"}
	}
	if t.Timeout < 0 {
		return &ValidationError{TaskID: t.ID, Field: "timeout", Reason: "cannot be negative"}
	}
	if err := t.Payload.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.TaskID = t.ID
			return ve
		}
		return &ValidationError{TaskID: t.ID, Reason: err.Error()}
	}
	return nil
}

// Outcome is the normalized result of a successful execution.
type Outcome struct {
	Data     any
	Metadata map[string]any
}

// Execute runs one attempt of the task against a. Failures come back as
// classified errors; see Classify.
func (t *Task) Execute(ctx context.Context, a agent.Agent) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	switch p := t.Payload.(type) {
	case *Scrape:
		return p.run(ctx, a)
	case *Extract:
		return p.run(ctx, a)
	case *FillForm:
		return p.run(ctx, a)
	case *Navigate:
		return p.run(ctx, a)
	default:
		return Outcome{}, Permanentf("unsupported payload %T", p)
	}
}

// Result is the terminal, write-once record of a task.
type Result struct {
	TaskID       string         `json:"task_id"`
	Kind         Kind           `json:"type"`
	Status       Status         `json:"status"`
	Data         any            `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	AttemptsUsed int            `json:"attempts_used"`
	Duration     time.Duration  `json:"duration"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Err is the original error, kept for errors.Is/As by in-process callers.
	Err error `json:"-"`
}

// Succeeded reports whether the task completed.
func (r Result) Succeeded() bool {
	return r.Status == StatusCompleted
}

// NewFailedResult builds the result for a task that ended with err.
// Cancellation errors produce a cancelled result.
func NewFailedResult(t *Task, err error) Result {
	kind := Classify(err)
	status := StatusFailed
	if kind == ErrorCancelled {
		status = StatusCancelled
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		TaskID:       t.ID,
		Kind:         t.Kind(),
		Status:       status,
		Error:        msg,
		ErrorKind:    kind,
		AttemptsUsed: t.Attempt,
		CompletedAt:  time.Now(),
		Metadata:     copyMetadata(t.Metadata, nil),
		Err:          err,
	}
}

// NewCompletedResult builds the result for a task that succeeded.
func NewCompletedResult(t *Task, out Outcome) Result {
	return Result{
		TaskID:       t.ID,
		Kind:         t.Kind(),
		Status:       StatusCompleted,
		Data:         out.Data,
		AttemptsUsed: t.Attempt,
		CompletedAt:  time.Now(),
		Metadata:     copyMetadata(t.Metadata, out.Metadata),
	}
}

func copyMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	md := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		md[k] = v
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind validates a task type name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return k, nil
}
