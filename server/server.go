// Package server exposes a registry over HTTP with JSON bodies.
// Errors are returned as platform error envelopes with a status derived from their code.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/skosovsky/promptgit"
)

const maxBodyBytes = 1 << 20

// Service is the registry surface the server needs.
type Service interface {
	ID() string
	Get(ctx context.Context, path, version string) (*promptgit.Artifact, error)
	ListArtifacts(ctx context.Context, version string) iter.Seq2[string, error]
	Validate(ctx context.Context, path, version string) []string
	Render(ctx context.Context, path, version string, vars map[string]any, opts ...promptgit.RenderOption) (string, error)
	ListVersions(ctx context.Context) (branches, tags []promptgit.VersionDescriptor, err error)
	CurrentVersion(ctx context.Context) (promptgit.VersionDescriptor, error)
	Checkout(ctx context.Context, version string, create bool) error
	Diff(ctx context.Context, path, from, to string) (promptgit.DiffResult, error)
}

// Catalog resolves the repositories served under /repos/{repo}.
type Catalog interface {
	Repos(ctx context.Context) ([]RepoInfo, error)
	Service(ctx context.Context, name string) (Service, error)
}

// RepoInfo describes one repository of a Catalog.
type RepoInfo struct {
	Name    string `json:"name"`
	Branch  string `json:"branch,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Default bool   `json:"default"`
}

// Server serves a default Service at the root and, with a Catalog, every repository
// under /repos/{repo}.
type Server struct {
	svc     Service
	catalog Catalog
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCatalog serves the repositories of c under /repos/{repo}.
func WithCatalog(c Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// New returns a Server for svc. svc may be nil when a Catalog is given; the root routes
// then report that no default repository is set.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler:
//
//	GET  /health
//	GET  /repos
//	GET  /versions
//	GET  /current
//	POST /checkout                            body {"version": "...", "create": false}
//	GET  /diff?path=&from=&to=[&format=unified]
//	GET  /artifacts?version=
//	GET  /artifacts/{path}?version=
//	POST /artifacts/{path}/render?version=    body {"variables": {...}}
//	GET  /validate/{path}?version=
//
// Every route but /health and /repos is also served under /repos/{repo} for a named repository.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, platformerrors.New(platformerrors.CodeNotFound, "no route for "+r.URL.Path))
	})

	r.Get("/health", s.HandleHealth())
	r.Get("/repos", s.HandleRepos())
	s.repoRoutes(r)
	r.Route("/repos/{repo}", s.repoRoutes)
	return r
}

func (s *Server) repoRoutes(r chi.Router) {
	r.Get("/versions", s.HandleVersions())
	r.Get("/current", s.HandleCurrent())
	r.Post("/checkout", s.HandleCheckout())
	r.Get("/diff", s.HandleDiff())
	r.Get("/artifacts", s.HandleListArtifacts())
	r.Get("/artifacts/*", s.HandleGetArtifact())
	r.Post("/artifacts/*", s.HandleRender())
	r.Get("/validate/*", s.HandleValidate())
}

// service picks the repository a request targets: the {repo} segment, else the default.
func (s *Server) service(r *http.Request) (Service, error) {
	name := chi.URLParam(r, "repo")
	switch {
	case name == "" && s.svc == nil:
		return nil, platformerrors.New(platformerrors.CodeNotFound, "no default repository; use /repos/{repo}")
	case name == "":
		return s.svc, nil
	case s.catalog != nil:
		return s.catalog.Service(r.Context(), name)
	case s.svc != nil && name == s.svc.ID():
		return s.svc, nil
	default:
		return nil, fmt.Errorf("%w: %s", promptgit.ErrNotRepository, name)
	}
}

func (s *Server) defaultID() string {
	if s.svc == nil {
		return ""
	}
	return s.svc.ID()
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr, "repo", s.defaultID())
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HandleHealth reports liveness and the default repository.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "repo": s.defaultID()})
	}
}

// HandleRepos lists the served repositories and marks the default one.
func (s *Server) HandleRepos() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var repos []RepoInfo
		switch {
		case s.catalog != nil:
			var err error
			if repos, err = s.catalog.Repos(r.Context()); err != nil {
				s.writeError(w, r, err)
				return
			}
		case s.svc != nil:
			repos = []RepoInfo{{Name: s.svc.ID()}}
		}
		def := s.defaultID()
		for i := range repos {
			repos[i].Default = def != "" && repos[i].Name == def
		}
		writeJSON(w, http.StatusOK, map[string]any{"default": def, "repos": nonNil(repos)})
	}
}

// HandleVersions lists branches and tags.
func (s *Server) HandleVersions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		branches, tags, err := svc.ListVersions(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Branches []promptgit.VersionDescriptor `json:"branches"`
			Tags     []promptgit.VersionDescriptor `json:"tags"`
		}{
			Branches: nonNil(branches),
			Tags:     nonNil(tags),
		})
	}
}

// HandleCurrent describes the checked out version.
func (s *Server) HandleCurrent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cur, err := svc.CurrentVersion(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cur)
	}
}

type checkoutRequest struct {
	Version string `json:"version"`
	Create  bool   `json:"create"`
}

// HandleCheckout moves the working copy and returns the new current version.
func (s *Server) HandleCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req checkoutRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Version == "" {
			s.writeError(w, r, platformerrors.New(platformerrors.CodeInvalidInput, "version is required"))
			return
		}
		if err := svc.Checkout(r.Context(), req.Version, req.Create); err != nil {
			s.writeError(w, r, err)
			return
		}
		cur, err := svc.CurrentVersion(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cur)
	}
}

// HandleDiff compares one artifact between two versions.
func (s *Server) HandleDiff() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		path := q.Get("path")
		if path == "" {
			s.writeError(w, r, platformerrors.New(platformerrors.CodeInvalidInput, "path is required"))
			return
		}
		d, err := svc.Diff(r.Context(), path, q.Get("from"), q.Get("to"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if q.Get("format") == "unified" {
			text, err := d.Unified()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(text))
			return
		}
		d.Lines = nonNil(d.Lines)
		writeJSON(w, http.StatusOK, d)
	}
}

// HandleListArtifacts lists artifact paths at a version.
func (s *Server) HandleListArtifacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		version := r.URL.Query().Get("version")
		paths := []string{}
		for p, err := range svc.ListArtifacts(r.Context(), version) {
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			paths = append(paths, p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": version, "artifacts": paths})
	}
}

// ArtifactResponse is the JSON form of an artifact.
type ArtifactResponse struct {
	Path        string                      `json:"path"`
	File        string                      `json:"file"`
	Version     string                      `json:"version"`
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Author      string                      `json:"author,omitempty"`
	Tags        []string                    `json:"tags,omitempty"`
	Template    string                      `json:"template"`
	Variables   map[string]VariableResponse `json:"variables"`
}

// VariableResponse is the JSON form of a variable declaration.
type VariableResponse struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewArtifactResponse converts a for encoding.
func NewArtifactResponse(a *promptgit.Artifact) ArtifactResponse {
	out := ArtifactResponse{
		Path:        a.Path,
		File:        a.File,
		Version:     a.Metadata.Version,
		Name:        a.Metadata.Name,
		Description: a.Metadata.Description,
		Author:      a.Metadata.Author,
		Tags:        a.Metadata.Tags,
		Template:    a.Template,
		Variables:   make(map[string]VariableResponse, len(a.Variables)),
	}
	for name, v := range a.Variables {
		typeName := v.TypeName
		if typeName == "" {
			typeName = v.Type.String()
		}
		out.Variables[name] = VariableResponse{
			Type:        typeName,
			Required:    v.Required,
			Default:     v.Default,
			Description: v.Description,
		}
	}
	return out
}

// HandleGetArtifact returns one artifact.
func (s *Server) HandleGetArtifact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		a, err := svc.Get(r.Context(), chi.URLParam(r, "*"), r.URL.Query().Get("version"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewArtifactResponse(a))
	}
}

type renderRequest struct {
	Variables map[string]any `json:"variables"`
}

// HandleRender renders {path}/render with the posted variables.
func (s *Server) HandleRender() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		path, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/render")
		if !ok || path == "" {
			s.writeError(w, r, platformerrors.New(platformerrors.CodeNotFound, "no route for POST "+r.URL.Path))
			return
		}
		var req renderRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		version := r.URL.Query().Get("version")
		out, err := svc.Render(r.Context(), path, version, req.Variables)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": path, "version": version, "output": out})
	}
}

// HandleValidate reports the structural problems of one artifact.
func (s *Server) HandleValidate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.service(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		path := chi.URLParam(r, "*")
		problems := nonNil(svc.Validate(r.Context(), path, r.URL.Query().Get("version")))
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "valid": len(problems) == 0, "problems": problems})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid JSON body")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	pe := promptgit.PlatformError(err)
	status := StatusFor(pe.Code())
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed", "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, platformerrors.ToJSON(pe))
}

// StatusFor maps a platform error code to an HTTP status.
func StatusFor(code platformerrors.ErrorCode) int {
	switch code {
	case platformerrors.CodeNotFound:
		return http.StatusNotFound
	case platformerrors.CodeForbidden:
		return http.StatusForbidden
	case platformerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case platformerrors.CodeSchemaFailed:
		return http.StatusUnprocessableEntity
	case platformerrors.CodeConflict, platformerrors.CodeAlreadyExists:
		return http.StatusConflict
	case platformerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case platformerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
