// Package server exposes the upload front end: extracts posted as multipart
// forms are saved to the upload directory and loaded synchronously.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/fetcher"
	"github.com/sells-group/covid-loader/internal/loader"
	"github.com/sells-group/covid-loader/internal/metrics"
	"github.com/sells-group/covid-loader/internal/model"
)

// Loader runs loads for uploaded files.
type Loader interface {
	LoadAll(ctx context.Context, inputs []loader.Input, opts loader.Options, concurrency int) ([]*model.LoadSummary, error)
}

// LoadLister reads the load log.
type LoadLister interface {
	ListLoads(ctx context.Context, limit int) ([]model.LoadRun, error)
}

// Config configures the server.
type Config struct {
	UploadDir   string
	MaxUploadMB int64
	Concurrency int
	// DefaultMode applies when the form carries no mode.
	DefaultMode model.Mode
	// Metrics receives every load summary; a private recorder is used when nil.
	Metrics *metrics.Recorder
}

// Server handles uploads and load-log queries.
type Server struct {
	loader Loader
	loads  LoadLister
	cfg    Config
	log    *zap.Logger
}

// New creates a Server.
func New(l Loader, loads LoadLister, cfg Config) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = model.ModeAppend
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Server{
		loader: l,
		loads:  loads,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "server")),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Post("/slurp", s.slurp)
	r.Get("/loads", s.listLoads)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type slurpResponse struct {
	Summaries []*model.LoadSummary `json:"summaries"`
	Error     string               `json:"error,omitempty"`
}

func (s *Server) slurp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	name := SafeName(hdr.Filename)
	if name == "" || !fetcher.Supported(name) {
		writeError(w, http.StatusBadRequest, "file must be .csv, .xlsx or .zip")
		return
	}

	opts := loader.Options{Mode: s.cfg.DefaultMode}
	if m := r.FormValue("mode"); m != "" {
		if opts.Mode, err = model.ParseMode(m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if opts.Ranges, err = loader.ParseRanges(r.FormValue("rows")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := s.save(file, name)
	if err != nil {
		s.log.Error("failed to save upload", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	s.log.Info("upload received", zap.String("file", name), zap.String("mode", string(opts.Mode)))

	inputs, cleanup, err := fetcher.Open(r.Context(), path, fetcher.OpenOptions{TempDir: s.cfg.UploadDir})
	defer cleanup()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sums, err := s.loader.LoadAll(r.Context(), inputs, opts, s.cfg.Concurrency)
	for _, sum := range sums {
		s.cfg.Metrics.Observe(sum)
	}
	resp := slurpResponse{Summaries: sums}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// save writes the upload into the upload directory.
func (s *Server) save(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", eris.Wrap(err, "server: create upload dir")
	}
	path := filepath.Join(s.cfg.UploadDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "server: create upload file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, src); err != nil {
		return "", eris.Wrap(err, "server: write upload file")
	}
	return path, nil
}

func (s *Server) listLoads(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.loads.ListLoads(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list loads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list loads")
		return
	}
	if runs == nil {
		runs = []model.LoadRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// SafeName reduces an uploaded file name to a plain base name. Characters
// other than letters, digits, '.', '-' and '_' become '_'.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return ""
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
