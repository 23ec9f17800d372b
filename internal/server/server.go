// Package server provides the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
	"go.uber.org/zap"
)

// maxBodyBytes bounds creation requests and OPML uploads.
const maxBodyBytes = 4 << 20

// Feeds is the feed service the handlers call. *feeds.Service satisfies it.
type Feeds interface {
	Render(ctx context.Context, feedID string, bypassCache bool) ([]byte, error)
	CreateFeed(ctx context.Context, cfg model.Config) (string, error)
	CreateFromOPML(ctx context.Context, r io.Reader) (string, error)
	ExportOPML(ctx context.Context, feedID string) ([]byte, error)
	DeleteFeed(ctx context.Context, feedID string) error
	RecordClickAndGetLink(ctx context.Context, feedID, itemID string) (string, error)
}

// Server is the main HTTP server.
type Server struct {
	feeds  Feeds
	logger *zap.Logger
	router chi.Router
	http   *http.Server
}

// New creates a new server.
func New(feeds Feeds, logger *zap.Logger) *Server {
	s := &Server{
		feeds:  feeds,
		logger: logger.Named("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api/v1/feed", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Post("/opml", s.handleImportOPML)
		r.Get("/{feedID}", s.handleRender)
		r.Delete("/{feedID}", s.handleDelete)
		r.Get("/{feedID}/opml", s.handleExportOPML)
		r.Get("/{feedID}/item/{itemID}", s.handleClick)
	})

	s.router = r
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// --- Handlers ---

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	cfg, err := model.ParseConfig(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.feeds.CreateFeed(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no opml file provided")
		return
	}
	defer file.Close()

	id, err := s.feeds.CreateFromOPML(r.Context(), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	bypass, _ := strconv.ParseBool(r.URL.Query().Get("nocache"))
	doc, err := s.feeds.Render(r.Context(), chi.URLParam(r, "feedID"), bypass)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.feeds.DeleteFeed(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	data, err := s.feeds.ExportOPML(r.Context(), feedID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.opml", feedID))
	w.Write(data)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	link, err := s.feeds.RecordClickAndGetLink(r.Context(), chi.URLParam(r, "feedID"), chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

// --- Helpers ---

// statusFor maps an error from the feed service to a response status.
func statusFor(err error) int {
	var fetchErr *rss.FetchError
	switch {
	case errors.Is(err, model.ErrFeedNotFound), errors.Is(err, model.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidConfig), errors.Is(err, model.ErrUnknownFeedType):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSONError(w, status, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeCreated(w http.ResponseWriter, feedID string) {
	writeJSON(w, http.StatusCreated, map[string]string{"url": "/api/v1/feed/" + feedID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
