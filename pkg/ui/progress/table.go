package progress

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/entrhq/webrunner/pkg/task"
)

// Table renders results as a bordered table.
func Table(results []task.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.TaskID,
			string(r.Kind),
			string(r.Status),
			fmt.Sprintf("%d", r.AttemptsUsed),
			r.Duration.Round(10 * time.Millisecond).String(),
			truncate(r.Error, 60),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedGray)).
		Headers("TASK", "TYPE", "STATUS", "ATTEMPTS", "DURATION", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			if col == 2 && row >= 0 && row < len(results) {
				switch results[row].Status {
				case task.StatusCompleted:
					return cellStyle.Foreground(mintGreen)
				case task.StatusCancelled:
					return cellStyle.Foreground(mutedGray)
				default:
					return cellStyle.Foreground(salmonPink)
				}
			}
			return cellStyle
		}).
		Render()
}
