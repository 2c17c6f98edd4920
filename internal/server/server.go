// Package server is the read-only dashboard over the counts ledger and the
// stage-run record.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/pipeline"
	"github.com/TobiSchelling/demoproc/internal/reconcile"
	"github.com/TobiSchelling/demoproc/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for the dashboard.
type Server struct {
	ledger   ledger.Store
	db       *database.DB
	template string
	pages    map[string]*template.Template
	router   *chi.Mux
	log      *zap.Logger
}

// eventRow is one line of the index page.
type eventRow struct {
	Key      string
	Progress int
	Report   *reconcile.Report
}

// New creates a new Server. templatePath is the communication template; an
// empty path leaves the communication off the event page.
func New(store ledger.Store, db *database.DB, templatePath string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"stage":    func(n int) string { return pipeline.Stage(n).String() },
		"stages":   func() int { return len(pipeline.Stages()) },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so the pages' "content" blocks don't collide.
	pageNames := []string{"index.html", "event.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{ledger: store, db: db, template: templatePath, pages: pages, router: chi.NewRouter(), log: log}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	staticSub, _ := fs.Sub(staticFS, "static")
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.router.Get("/", s.handleIndex)
	s.router.Get("/event", s.handleEvent)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	keys, err := s.ledger.Events()
	if err != nil {
		s.log.Error("listing events", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rows := make([]eventRow, 0, len(keys))
	for _, key := range keys {
		progress, err := s.db.Progress(key)
		if err != nil {
			s.log.Error("reading progress", zap.String("event", key), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		rep, err := reconcile.Event(s.ledger, key)
		if err != nil {
			s.log.Error("reconciling", zap.String("event", key), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		rows = append(rows, eventRow{Key: key, Progress: progress, Report: rep})
	}

	s.render(w, "index.html", map[string]any{
		"Events": rows,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	entry, err := s.ledger.GetAll(key)
	if errors.Is(err, ledger.ErrUnknownEvent) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Error("reading ledger", zap.String("event", key), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	runs, _ := s.db.StageRuns(key)
	batch, _ := s.db.GetArchiveBatch(key)

	metrics := make([][2]string, 0, len(entry))
	for _, m := range ledger.Schema() {
		v, ok := entry[m.Name]
		if !ok {
			v = m.Default
		}
		metrics = append(metrics, [2]string{m.Name, v.String()})
	}

	s.render(w, "event.html", map[string]any{
		"Key":           key,
		"Metrics":       metrics,
		"Report":        reconcile.Compute(key, entry),
		"Runs":          runs,
		"Batch":         batch,
		"Communication": s.communication(key, entry),
	})
}

// communication fills the configured template for the event. It returns
// "" when no template is configured or it cannot be read.
func (s *Server) communication(key string, entry ledger.Entry) string {
	if s.template == "" {
		return ""
	}
	tmpl, err := os.ReadFile(s.template)
	if err != nil {
		s.log.Warn("communication template unavailable", zap.String("path", s.template), zap.Error(err))
		return ""
	}
	return report.Fill(string(tmpl), demoType(key), entry)
}

// demoType recovers the demo type from a ledger key "Type (M/D/YYYY)".
func demoType(key string) string {
	if i := strings.LastIndex(key, " ("); i >= 0 {
		return key[:i]
	}
	return key
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("rendering template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the dashboard on 127.0.0.1:port until ctx is cancelled.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	srv.log.Info("server listening", zap.String("url", "http://"+addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
