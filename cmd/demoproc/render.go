package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/pipeline"
	"github.com/TobiSchelling/demoproc/internal/reconcile"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB74D"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// printSteps prints a run result; the first step is stage first.
func printSteps(result *pipeline.Result, first pipeline.Stage) {
	total := len(pipeline.Stages())
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", int(first)+i, total, step.Name)
		if step.Err != nil {
			fmt.Printf("  %s %v\n", errStyle.Render("Error:"), step.Err)
			continue
		}
		fmt.Printf("  %s\n", step.Summary)
		for _, w := range step.Warnings {
			fmt.Printf("  %s %v\n", warnStyle.Render("Warning:"), w)
		}
	}
}

func renderPlan(event string, plan []pipeline.StageStatus, progress int) string {
	var b strings.Builder
	for _, st := range plan {
		state := dimStyle.Render("never run")
		if st.Last != nil {
			switch st.Last.Status {
			case database.StatusDone:
				state = okStyle.Render("done")
			case database.StatusFailed:
				state = errStyle.Render("failed")
			default:
				state = warnStyle.Render(string(st.Last.Status))
			}
			if st.Last.StartedAt != nil {
				state += dimStyle.Render("  " + *st.Last.StartedAt)
			}
		}
		marker := " "
		if st.Runnable {
			marker = okStyle.Render("›")
		}
		fmt.Fprintf(&b, "%s %d %-30s %s\n", marker, int(st.Stage), st.Stage, state)
	}

	head := titleStyle.Render(event)
	summary := "Not started"
	if progress > 0 {
		summary = fmt.Sprintf("Done through %s (%d/%d)", pipeline.Stage(progress), progress, len(plan))
	}
	return boxStyle.Render(head + "\n" + dimStyle.Render(summary) + "\n\n" + strings.TrimRight(b.String(), "\n"))
}

func renderReconciliation(rep *reconcile.Report) string {
	var blocks []string
	for _, side := range []reconcile.Side{rep.CRM, rep.MDB} {
		var b strings.Builder
		b.WriteString(titleStyle.Render(side.Name) + "\n")
		for _, t := range side.Terms {
			fmt.Fprintf(&b, "  %-22s %6d\n", t.Metric, t.Value)
		}
		fmt.Fprintf(&b, "  %-22s %6d\n", "total", side.Total)
		fmt.Fprintf(&b, "  %-22s %6d\n", "initial", side.Initial)
		variance := okStyle.Render(fmt.Sprintf("%6d", side.Variance))
		if !side.Balanced() {
			variance = errStyle.Render(fmt.Sprintf("%+6d", side.Variance))
		}
		fmt.Fprintf(&b, "  %-22s %s", "variance", variance)
		blocks = append(blocks, boxStyle.Render(b.String()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(rep.Event), lipgloss.JoinHorizontal(lipgloss.Top, blocks...))
}
