package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/Moshyfawn/tailwind-serve/config"
	"github.com/Moshyfawn/tailwind-serve/history"
	"github.com/Moshyfawn/tailwind-serve/jit"
	"github.com/Moshyfawn/tailwind-serve/livereload"
	"github.com/Moshyfawn/tailwind-serve/proto"
)

const maxBuildsLimit = 500

// Handler serves the stylesheet and the admin API for one jit.Server.
type Handler struct {
	srv  *jit.Server
	cfg  *config.Config
	hist *history.DB
	hub  *livereload.Hub
}

// NewHandler creates a new API handler. hist and hub may be nil.
func NewHandler(srv *jit.Server, cfg *config.Config, hist *history.DB, hub *livereload.Hub) *Handler {
	return &Handler{srv: srv, cfg: cfg, hist: hist, hub: hub}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(srv *jit.Server, cfg *config.Config, hist *history.DB, hub *livereload.Hub, logger *log.Logger) http.Handler {
	h := NewHandler(srv, cfg, hist, hub)
	mux := http.NewServeMux()

	// Stylesheet (GET also matches HEAD)
	mux.HandleFunc("GET "+Route(cfg.Route), h.Stylesheet)

	// Health
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Admin
	mux.HandleFunc("POST /admin/v1/rebuild", h.Rebuild)
	mux.HandleFunc("GET /admin/v1/status", h.Status)
	mux.HandleFunc("GET /admin/v1/builds", h.Builds)

	root := http.NewServeMux()
	root.Handle("/", WithDefaults(mux, logger))

	// Websockets need to hijack the connection, which the timeout and
	// compression writers do not allow.
	if hub != nil {
		root.Handle("GET /livereload", hub)
	}
	return root
}

// Route normalizes the configured stylesheet path.
func Route(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return "/styles.css"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// ----- Stylesheet -----

func (h *Handler) Stylesheet(w http.ResponseWriter, r *http.Request) {
	resp := h.srv.BuildResponse()
	for k, v := range resp.Header {
		w.Header()[k] = v
	}

	// The compression middleware tags encoded bodies per coding, so
	// validators are compared against the tag this request would get.
	etag := resp.Header.Get("ETag")
	if enc := negotiate(r.Header.Get("Accept-Encoding")); enc != "" && r.Method != http.MethodHead {
		etag = EncodedETag(etag, enc)
	}
	if notModified(r, etag, resp.Header.Get("Last-Modified")) {
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

// notModified evaluates If-None-Match, falling back to If-Modified-Since
// only when no entity tag was sent.
func notModified(r *http.Request, etag, lastModified string) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, tag := range strings.Split(inm, ",") {
			tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
			if tag == "*" || tag == etag {
				return true
			}
		}
		return false
	}

	ims := r.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	modified, err := http.ParseTime(lastModified)
	if err != nil {
		return false
	}
	return !modified.After(since)
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
		Mode:    h.srv.Mode().String(),
		State:   h.srv.State().String(),
	})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.srv.State()
	status := http.StatusOK
	msg := "ready"
	if state != jit.Ready {
		status = http.StatusServiceUnavailable
		msg = "unavailable"
	}
	writeJSON(w, status, proto.HealthResponse{
		Status:  msg,
		Version: h.cfg.Version,
		Mode:    h.srv.Mode().String(),
		State:   state.String(),
	})
}

// ----- Admin -----

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	a, err := h.srv.Rebuild(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "rebuild failed", err)
		return
	}

	resp := proto.RebuildResponse{
		CandidateCount: a.CandidateCount,
		FileCount:      a.FileCount,
		Bytes:          len(a.Content),
		BuildID:        a.BuildID,
		Digest:         a.Digest,
	}
	if css, _ := strconv.ParseBool(r.URL.Query().Get("css")); css {
		resp.CSS = a.Content
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.srv.Current()
	a := snap.Artifact

	roots := make([]proto.SourceRoot, 0, len(a.SourceRoots))
	for _, src := range a.SourceRoots {
		roots = append(roots, proto.SourceRoot{Base: src.Base, Pattern: src.Pattern, Negated: src.Negated})
	}
	watched := h.srv.WatchedRoots()
	if watched == nil {
		watched = []string{}
	}
	clients := 0
	if h.hub != nil {
		clients = h.hub.Count()
	}
	builds := -1
	if h.hist != nil {
		n, err := h.hist.Count()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read build history", err)
			return
		}
		builds = n
	}

	writeJSON(w, http.StatusOK, proto.StatusResponse{
		Mode:           h.srv.Mode().String(),
		State:          h.srv.State().String(),
		Source:         h.srv.Source(),
		BuildID:        a.BuildID,
		Digest:         a.Digest,
		LastModified:   snap.LastModified.UnixMilli(),
		Bytes:          len(a.Content),
		CandidateCount: a.CandidateCount,
		FileCount:      a.FileCount,
		DurationMs:     a.Duration.Milliseconds(),
		SourceRoots:    roots,
		Extensions:     nonNil(a.Extensions),
		Dependencies:   nonNil(a.Dependencies),
		WatchedRoots:   watched,
		Clients:        clients,
		Builds:         builds,
	})
}

func (h *Handler) Builds(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeError(w, http.StatusServiceUnavailable, "build history disabled", nil)
		return
	}

	limit := config.HistoryLimit()
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = min(n, maxBuildsLimit)
	}

	builds, err := h.hist.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read build history", err)
		return
	}
	if builds == nil {
		builds = []*proto.BuildRecord{}
	}
	writeJSON(w, http.StatusOK, proto.BuildsResponse{Builds: builds})
}

// ----- Helpers -----

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := proto.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
