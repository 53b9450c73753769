// Package web serves a read-only dashboard over stored runs and the
// history database.
package web

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stagehand-ci/stagehand/internal/history"
	"github.com/stagehand-ci/stagehand/internal/runstore"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(status string) string {
		return "badge badge-" + strings.ReplaceAll(status, "_", "-")
	},
}

// Server is the read-only web UI server. The history database is optional;
// without it the stats views render empty.
type Server struct {
	runs *runstore.Store
	db   *history.DB

	dashboardTmpl *template.Template
	runTmpl       *template.Template
	statsTmpl     *template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(runs *runstore.Store, database *history.DB) *Server {
	return &Server{
		runs:          runs,
		db:            database,
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
		runTmpl:       mustParseTmpl("base.html", "run.html"),
		statsTmpl:     mustParseTmpl("base.html", "stats.html"),
	}
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleDashboard)
	r.Get("/runs/{runID}", s.handleRunDetail)
	r.Get("/runs/{runID}/logs/{stage}", s.handleStageLog)
	r.Get("/stats", s.handleStats)
	r.Get("/api/runs", s.handleAPIRuns)
	r.Get("/api/runs/{runID}", s.handleAPIRun)
	r.Get("/healthz", s.handleHealthz)
	return r
}

// Start registers routes and starts listening on addr.
func (s *Server) Start(addr string) error {
	log.Printf("stagehand UI listening on %s", addr)
	return http.ListenAndServe(addr, s.routes())
}
