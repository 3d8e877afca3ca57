// Package progress renders a live view of a batch run in the terminal.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/entrhq/webrunner/pkg/task"
)

const (
	refreshInterval = 200 * time.Millisecond
	recentLimit     = 5
	maxBarWidth     = 60
)

// Source is polled for the run's state.
type Source interface {
	Results() []task.Result
	PendingCount() int
	ActiveCount() int
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// model tracks a run of total tasks.
type model struct {
	src   Source
	total int

	bar     progress.Model
	spinner spinner.Model

	results []task.Result
	pending int
	active  int

	onInterrupt func()
	interrupted bool
	done        bool
	started     time.Time
}

func newModel(src Source, total int, onInterrupt func()) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	return model{
		src:         src,
		total:       total,
		bar:         progress.New(progress.WithGradient(string(salmonPink), string(mintGreen))),
		spinner:     s,
		onInterrupt: onInterrupt,
		started:     time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
		return m, nil

	case tickMsg:
		m.refresh()
		if m.done {
			return m, tea.Quit
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) refresh() {
	m.results = m.src.Results()
	m.pending = m.src.PendingCount()
	m.active = m.src.ActiveCount()
	m.done = len(m.results) >= m.total && m.active == 0 && m.pending == 0
}

func (m model) counts() (completed, failed, cancelled int) {
	for _, r := range m.results {
		switch r.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusCancelled:
			cancelled++
		default:
			failed++
		}
	}
	return
}

func (m model) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return min(float64(len(m.results))/float64(m.total), 1)
}

func (m model) View() string {
	var b strings.Builder

	if m.done {
		b.WriteString(titleStyle.Render("✓ Batch finished"))
	} else {
		b.WriteString(m.spinner.View() + " " + titleStyle.Render("Running tasks"))
	}
	b.WriteString(countStyle.Render(fmt.Sprintf("  %d/%d  %s", len(m.results), m.total, time.Since(m.started).Round(time.Second))))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteString("\n\n")

	completed, failed, cancelled := m.counts()
	b.WriteString(completedStyle.Render(fmt.Sprintf("%d completed", completed)))
	b.WriteString(countStyle.Render(" · "))
	b.WriteString(failedStyle.Render(fmt.Sprintf("%d failed", failed)))
	b.WriteString(countStyle.Render(" · "))
	b.WriteString(cancelledStyle.Render(fmt.Sprintf("%d cancelled", cancelled)))
	b.WriteString(countStyle.Render(fmt.Sprintf(" · %d running · %d pending", m.active, m.pending)))
	b.WriteString("\n")

	start := max(len(m.results)-recentLimit, 0)
	if recent := m.results[start:]; len(recent) > 0 {
		b.WriteString("\n")
		for _, r := range recent {
			b.WriteString(resultLine(r))
			b.WriteString("\n")
		}
	}

	if !m.done {
		b.WriteString("\n" + helpStyle.Render("q / ctrl+c to stop"))
	}
	b.WriteString("\n")
	return b.String()
}

func resultLine(r task.Result) string {
	switch r.Status {
	case task.StatusCompleted:
		return completedStyle.Render(fmt.Sprintf("  ✓ %s (%s, %d attempt(s))", r.TaskID, r.Kind, r.AttemptsUsed))
	case task.StatusCancelled:
		return cancelledStyle.Render(fmt.Sprintf("  ⊘ %s cancelled", r.TaskID))
	default:
		return failedStyle.Render(fmt.Sprintf("  ✗ %s: %s", r.TaskID, truncate(r.Error, 80)))
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// Run shows the view until total results exist, the user stops it, or ctx
// ends. onInterrupt is called when the user asks to stop. Run reports
// whether the user interrupted.
func Run(ctx context.Context, src Source, total int, out io.Writer, onInterrupt func()) (bool, error) {
	p := tea.NewProgram(
		newModel(src, total, onInterrupt),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("progress view failed: %w", err)
	}
	m, ok := final.(model)
	return ok && m.interrupted, nil
}
