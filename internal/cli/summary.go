package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/assetflow/internal/build"
	"github.com/kingrea/assetflow/internal/pipeline/scheduler"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	builtStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

const nameColWidth = 22

// printSummary renders the execution record of one run, one line per task in
// stage order, followed by a totals line.
func printSummary(w io.Writer, label string, res *build.Result) {
	rec := res.Record
	if rec == nil {
		return
	}
	fmt.Fprintln(w, headerStyle.Render(label))
	var built, fresh, skipped int
	for _, name := range rec.Order() {
		task := rec.Task(name)
		fmt.Fprintln(w, taskLine(task))
		switch {
		case task.State == scheduler.StateFailed && task.Err != nil:
			for _, line := range strings.Split(strings.TrimSpace(task.Err.Error()), "\n") {
				fmt.Fprintln(w, "    "+failedStyle.Render(line))
			}
		case task.State == scheduler.StatePending:
			skipped++
		case task.UpToDate:
			fresh++
		default:
			built++
		}
	}
	for _, path := range res.Finalized {
		fmt.Fprintln(w, detailStyle.Render("  finalized "+relPath(path)))
	}
	failed := len(rec.Failed())
	totals := fmt.Sprintf("%d task(s): %d built, %d up to date", len(rec.Tasks), built, fresh)
	if failed > 0 {
		totals += fmt.Sprintf(", %d failed", failed)
	}
	if skipped > 0 {
		totals += fmt.Sprintf(", %d not run", skipped)
	}
	totals += " in " + formatDuration(rec.Duration())
	style := builtStyle
	if failed > 0 {
		style = failedStyle
	}
	fmt.Fprintln(w, style.Render(totals))
}

func taskLine(task *scheduler.TaskRecord) string {
	name := fmt.Sprintf("  %-*s ", nameColWidth, task.Name)
	switch {
	case task.State == scheduler.StateFailed:
		return name + failedStyle.Render("failed")
	case task.State == scheduler.StatePending:
		return name + mutedStyle.Render("not run")
	case task.UpToDate:
		return name + mutedStyle.Render("up to date")
	default:
		line := name + builtStyle.Render("built")
		detail := formatDuration(task.Duration())
		if task.Reason != "" {
			detail = string(task.Reason) + ", " + detail
		}
		return line + " " + detailStyle.Render(detail)
	}
}

// printGraph lists the stages of a plan. The all-tasks plan also names the
// declared targets.
func printGraph(w io.Writer, plan *build.Plan, targets []string) {
	label := plan.Target
	if label == "" {
		label = "all tasks"
	}
	fmt.Fprintln(w, headerStyle.Render(label))
	for idx, stage := range plan.Stages {
		fmt.Fprintf(w, "  stage %d: %s\n", idx+1, strings.Join(stage, ", "))
	}
	if plan.Target == "" && len(targets) > 0 {
		fmt.Fprintln(w, mutedStyle.Render("targets: "+strings.Join(targets, ", ")))
	}
}

func printRebuild(w io.Writer, ev watch.RebuildCompleted) {
	tasks := strings.Join(ev.Tasks, ", ")
	stamp := time.Now().Format("15:04:05")
	if ev.Success {
		fmt.Fprintf(w, "%s %s %s %s\n", mutedStyle.Render(stamp), builtStyle.Render("rebuilt"), tasks,
			detailStyle.Render(fmt.Sprintf("(%d file(s))", len(ev.Changed))))
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", mutedStyle.Render(stamp), failedStyle.Render("failed"), tasks)
	if ev.Err != nil {
		for _, line := range strings.Split(strings.TrimSpace(ev.Err.Error()), "\n") {
			fmt.Fprintln(w, "    "+failedStyle.Render(line))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// relPath shortens paths under the working directory.
func relPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
