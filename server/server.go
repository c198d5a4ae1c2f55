// Package server exposes the engine as JSON over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/diff"
	"github.com/minios-linux/lokitd/engine"
	"github.com/minios-linux/lokitd/logger"
	"github.com/minios-linux/lokitd/merge"
	"github.com/minios-linux/lokitd/store"
	"github.com/minios-linux/lokitd/translate"
)

// Service is the engine surface the server calls.
type Service interface {
	PreviewSync(ctx context.Context, ref, fileID string) (*diff.Result, error)
	ApplySync(ctx context.Context, ref, fileID string, policy merge.Policy) (*engine.ApplyResult, error)
	TranslateBatch(ctx context.Context, req translate.Request) (*translate.Result, error)
	StartBulkJob(ctx context.Context, targets []bulk.Target, opts engine.BulkOptions) (string, error)
	GetBulkJobStatus(id string, ack bool) (bulk.Job, error)
	CancelBulkJob(id string) error
	ListBulkJobs() []bulk.Job
	ListEntries(ctx context.Context, fileID string, q engine.ListQuery) (*engine.ListResult, error)
	FindNextUntranslated(ctx context.Context, fileID, afterID string, pageSize int) (*engine.NextResult, error)
	ListFiles(ctx context.Context) ([]store.FileInfo, error)
}

// Server serves the HTTP API.
type Server struct {
	svc Service
	mux *chi.Mux
	srv *http.Server

	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithCORS allows browser clients from origins. No origins disables CORS.
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// New builds the router for svc. addr is used by Run.
func New(svc Service, addr string, opts ...Option) *Server {
	s := &Server{svc: svc, mux: chi.NewRouter()}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("http shutting down")
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() {
	r := s.mux
	r.Use(chimw.RealIP, chimw.RequestID, requestLogger, chimw.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(corsHandler(s.corsOrigins))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/preview", s.previewSync)
		r.Post("/sync/apply", s.applySync)
		r.Post("/translate/batch", s.translateBatch)

		r.Get("/files", s.listFiles)
		r.Get("/files/{id}/entries", s.listEntries)
		r.Get("/files/{id}/next-untranslated", s.nextUntranslated)

		r.Post("/jobs", s.startJob)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.jobStatus)
		r.Delete("/jobs/{id}", s.cancelJob)
	})
}

// fileID reads the {id} path parameter. File ids contain slashes, which
// clients send escaped as %2F.
func fileID(r *http.Request) (string, error) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		return "", apperr.Validationf("server", "invalid file id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validationf("server", "%s must be an integer, got %q", key, v)
	}
	return n, nil
}

type syncRequest struct {
	Ref    string       `json:"ref"`
	FileID string       `json:"file_id" validate:"required"`
	Policy merge.Policy `json:"policy"`
}

func (s *Server) previewSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[syncRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.PreviewSync(r.Context(), req.Ref, req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) applySync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[syncRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.ApplySync(r.Context(), req.Ref, req.FileID, req.Policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type translateRequest struct {
	FileID         string   `json:"file_id" validate:"required"`
	EntryIDs       []string `json:"entry_ids" validate:"required,min=1"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	BatchSize      int      `json:"batch_size" validate:"gte=0"`
	Language       string   `json:"language"`
	AutoPersist    bool     `json:"auto_persist"`
	TimeoutSeconds int      `json:"timeout_seconds" validate:"gte=0"`
}

func (s *Server) translateBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[translateRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.TranslateBatch(r.Context(), translate.Request{
		FileID:      req.FileID,
		EntryIDs:    req.EntryIDs,
		Provider:    req.Provider,
		Model:       req.Model,
		BatchSize:   req.BatchSize,
		Language:    req.Language,
		AutoPersist: req.AutoPersist,
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ListFiles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := engine.ListQuery{
		Filter: r.URL.Query().Get("filter"),
		Search: r.URL.Query().Get("search"),
	}
	if q.Page, err = queryInt(r, "page"); err == nil {
		q.PageSize, err = queryInt(r, "page_size")
	}
	if err == nil {
		err = validate(q)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.ListEntries(r.Context(), id, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) nextUntranslated(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.FindNextUntranslated(r.Context(), id, r.URL.Query().Get("after"), size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type jobRequest struct {
	Targets []bulk.Target      `json:"targets"`
	Options engine.BulkOptions `json:"options"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[jobRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.svc.StartBulkJob(r.Context(), req.Targets, req.Options)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.svc.ListBulkJobs()})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	ack, _ := strconv.ParseBool(r.URL.Query().Get("ack"))
	job, err := s.svc.GetBulkJobStatus(chi.URLParam(r, "id"), ack)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.CancelBulkJob(id); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.svc.GetBulkJobStatus(id, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
