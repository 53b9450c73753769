package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagehand-ci/stagehand/internal/runstore"
	"github.com/stagehand-ci/stagehand/internal/stats"
)

// ---- view models ----

type DashboardData struct {
	Runs      []RunRow
	Pipelines []PipelineCard
}

type RunRow struct {
	RunID      string
	ShortID    string
	Pipeline   string
	Branch     string
	Outcome    string
	Stages     int
	StartedAgo string
	Duration   string
}

type PipelineCard struct {
	Name        string
	Runs        int
	SuccessRate float64
	AvgSeconds  float64
}

type RunDetailData struct {
	RunID       string
	ShortID     string
	Pipeline    string
	Branch      string
	BuildNumber string
	Outcome     string
	Error       string
	StartedAgo  string
	Duration    string
	Stages      []StageRowView
	Post        []PostRowView
}

type StageRowView struct {
	Name         string
	Status       string
	Reason       string
	ExitCode     int
	Duration     string
	Log          string
	LogTruncated bool
	HasLog       bool
}

type PostRowView struct {
	Set      string
	Command  string
	ExitCode int
	Duration string
}

type StatsData struct {
	HasDB        bool
	Summaries    []stats.PipelineSummary
	Durations    []stats.StageDuration
	FailureRates []stats.StageFailureRate
	Throughput   []stats.Throughput
}

// ---- helpers ----

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]|\x1b\][^\x07]*\x07|\x1b[()][012B]`)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func fmtMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
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

const logLineLimit = 200

func tailLines(s string, limit int) (string, bool) {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s, false
	}
	return strings.Join(lines[len(lines)-limit:], "\n"), true
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// validStageParam rejects stage names that could escape the log directory.
func validStageParam(stage string) bool {
	if stage == "" || stage == ".." || strings.HasPrefix(stage, ".") {
		return false
	}
	return !strings.ContainsAny(stage, "/\\")
}

// ---- Dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.runs.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows := make([]RunRow, 0, len(summaries))
	for _, sum := range summaries {
		rows = append(rows, RunRow{
			RunID:      sum.RunID,
			ShortID:    shortRunID(sum.RunID),
			Pipeline:   sum.Pipeline,
			Branch:     sum.Branch,
			Outcome:    string(sum.Outcome),
			Stages:     sum.Stages,
			StartedAgo: relTime(sum.StartedAt),
			Duration:   fmtMs(sum.DurationMs),
		})
	}

	var cards []PipelineCard
	if s.db != nil {
		if pipelines, err := stats.QueryPipelineSummaries(s.db, ""); err == nil {
			for _, p := range pipelines {
				cards = append(cards, PipelineCard{
					Name:        p.Pipeline,
					Runs:        p.Runs,
					SuccessRate: p.SuccessRate,
					AvgSeconds:  p.AvgSeconds,
				})
			}
		}
	}

	data := DashboardData{Runs: rows, Pipelines: cards}
	if err := s.dashboardTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Run Detail ----

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := s.runs.LoadReport(runID)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stageRows := make([]StageRowView, 0, len(report.Stages))
	for _, st := range report.Stages {
		row := StageRowView{
			Name:     st.Name,
			Status:   string(st.Status),
			Reason:   st.Reason,
			ExitCode: st.ExitCode,
			Duration: fmtMs(st.DurationMs),
		}
		stdout, stderr, err := s.runs.StageOutput(runID, st.Name)
		if err == nil {
			combined := stdout
			if stderr != "" {
				if combined != "" {
					combined += "\n"
				}
				combined += stderr
			}
			if combined != "" {
				log := stripANSI(combined)
				row.Log, row.LogTruncated = tailLines(log, logLineLimit)
				row.HasLog = true
			}
		}
		stageRows = append(stageRows, row)
	}

	postRows := make([]PostRowView, 0, len(report.Post))
	for _, p := range report.Post {
		postRows = append(postRows, PostRowView{
			Set:      p.Set,
			Command:  p.Command,
			ExitCode: p.ExitCode,
			Duration: fmtMs(p.DurationMs),
		})
	}

	data := RunDetailData{
		RunID:       report.RunID,
		ShortID:     shortRunID(report.RunID),
		Pipeline:    report.Pipeline,
		Branch:      report.Branch,
		BuildNumber: report.BuildNumber,
		Outcome:     string(report.Outcome),
		Error:       report.Error,
		StartedAgo:  relTime(report.StartedAt),
		Duration:    fmtMs(report.DurationMs),
		Stages:      stageRows,
		Post:        postRows,
	}

	if err := s.runTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- Stage Log (raw text/plain) ----

func (s *Server) handleStageLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stage := chi.URLParam(r, "stage")
	if !validStageParam(stage) {
		http.NotFound(w, r)
		return
	}

	if _, err := s.runs.LoadReport(runID); err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	stdout, stderr, err := s.runs.StageOutput(runID, stage)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, stripANSI(stdout))
	if stderr != "" {
		fmt.Fprint(w, "\n--- stderr ---\n")
		fmt.Fprint(w, stripANSI(stderr))
	}
}

// ---- Stats ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	data := StatsData{}
	if s.db != nil {
		data.HasDB = true
		since := r.URL.Query().Get("since")
		var err error
		if data.Summaries, err = stats.QueryPipelineSummaries(s.db, since); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data.Durations, err = stats.QueryStageDurations(s.db, since); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data.FailureRates, err = stats.QueryStageFailureRates(s.db, since); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data.Throughput, err = stats.QueryThroughput(s.db, since); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := s.statsTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- JSON API ----

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.runs.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []runstore.Summary{}
	}
	writeJSON(w, summaries)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := s.runs.LoadReport(runID)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
