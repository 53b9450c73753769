package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-ci/stagehand/internal/engine"
)

// renderReport prints the human-readable run report: an outcome header, one
// row per stage, post-action results, and output tails for failed stages.
func renderReport(w io.Writer, r *engine.Report, tail int) {
	fmt.Fprintf(w, "\nRun %s (%s)\n", r.RunID, r.Pipeline)
	fmt.Fprintf(w, "Outcome: %s", r.Outcome)
	if d := fmtMs(r.DurationMs); d != "" {
		fmt.Fprintf(w, " in %s", d)
	}
	fmt.Fprintln(w)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-20s %-11s %-5s %-9s %s\n", "STAGE", "STATUS", "EXIT", "DURATION", "REASON")
	fmt.Fprintf(w, "%-20s %-11s %-5s %-9s %s\n",
		strings.Repeat("-", 20),
		strings.Repeat("-", 11),
		strings.Repeat("-", 5),
		strings.Repeat("-", 9),
		strings.Repeat("-", 6))
	for _, st := range r.Stages {
		exit := "-"
		if st.Status != engine.StatusSkipped {
			exit = strconv.Itoa(st.ExitCode)
		}
		fmt.Fprintf(w, "%-20s %-11s %-5s %-9s %s\n",
			st.Name, st.Status, exit, fmtMs(st.DurationMs), st.Reason)
	}

	if len(r.Post) > 0 {
		fmt.Fprintln(w, "\nPost actions:")
		for _, p := range r.Post {
			fmt.Fprintf(w, "  [%s] %s (exit %d)\n", p.Set, p.Command, p.ExitCode)
		}
	}

	if tail > 0 {
		for _, st := range r.Stages {
			if st.Status != engine.StatusFailed || (st.Stdout == "" && st.Stderr == "") {
				continue
			}
			fmt.Fprintf(w, "\n--- %s output (last %d lines) ---\n", st.Name, tail)
			printTail(w, st.Stdout, tail)
			if st.Stderr != "" {
				fmt.Fprintf(w, "--- %s stderr ---\n", st.Name)
				printTail(w, st.Stderr, tail)
			}
		}
	}
}

func printTail(w io.Writer, s string, limit int) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return
	}
	lines := strings.Split(s, "\n")
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func fmtMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
