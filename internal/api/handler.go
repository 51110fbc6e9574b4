package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/postpulse/postpulse/internal/config"
	"github.com/postpulse/postpulse/internal/engine"
	"github.com/postpulse/postpulse/internal/profile"
	"github.com/postpulse/postpulse/internal/store"
)

// Config wires the Handler to its collaborators.
type Config struct {
	Profiles *profile.Service

	// Accounts returns the current account settings; it is consulted per
	// request so hot-reloaded values apply immediately.
	Accounts func() config.AccountsConfig

	Auth config.ServerAuthConfig

	// Metrics and Stream are mounted at /metrics and /ws/stream when set.
	Metrics http.Handler
	Stream  http.Handler
}

// Handler serves the REST API.
type Handler struct {
	profiles *profile.Service
	accounts func() config.AccountsConfig
	router   chi.Router
}

// New creates a Handler and registers all routes.
func New(cfg Config) http.Handler {
	h := &Handler{
		profiles: cfg.Profiles,
		accounts: cfg.Accounts,
		router:   chi.NewRouter(),
	}

	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(requestLogger)
	h.router.Use(middleware.Recoverer)

	h.router.Get("/api/v1/health", h.health)
	if cfg.Metrics != nil {
		h.router.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	h.router.Group(func(r chi.Router) {
		r.Use(APIKey(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key()))

		r.Get("/stats", h.statsQuery)
		r.Get("/api/v1/stats/{account}", h.statsPath)
		r.Get("/api/v1/profiles", h.listProfiles)
		if cfg.Stream != nil {
			r.Method(http.MethodGet, "/ws/stream", cfg.Stream)
		}
	})

	h.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	accounts := h.accounts()
	tracked := accounts.Tracked
	if tracked == nil {
		tracked = []string{}
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		CachedProfiles:  len(h.profiles.Store().List()),
		DefaultAccount:  accounts.Default,
		TrackedAccounts: tracked,
	})
}

// statsQuery returns GET /stats?handle= and falls back to the default account.
func (h *Handler) statsQuery(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		handle = h.accounts().Default
	}
	h.serveProfile(w, r, handle)
}

// statsPath returns GET /api/v1/stats/{account}.
func (h *Handler) statsPath(w http.ResponseWriter, r *http.Request) {
	h.serveProfile(w, r, chi.URLParam(r, "account"))
}

// listProfiles returns GET /api/v1/profiles.
func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildProfiles(h.profiles.Store()))
}

func (h *Handler) serveProfile(w http.ResponseWriter, r *http.Request, raw string) {
	account := config.NormalizeHandle(raw)
	if !config.ValidHandle(account) {
		jsonErr(w, http.StatusBadRequest, "invalid handle: "+strconv.Quote(raw))
		return
	}

	bypass := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "refresh must be a boolean")
			return
		}
		bypass = b
	}

	e, cached, err := h.profiles.Lookup(r.Context(), account, bypass)
	if err != nil {
		h.computeErr(w, r, account, err)
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Last-Modified", e.UpdatedAt.UTC().Format(http.TimeFormat))
	jsonResp(w, http.StatusOK, e.Profile)
}

func (h *Handler) computeErr(w http.ResponseWriter, r *http.Request, account string, err error) {
	switch {
	case errors.Is(err, engine.ErrAccountNotFound):
		jsonErr(w, http.StatusNotFound, "account not found: "+account)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nothing useful can be written.
		slog.Debug("api: client cancelled computation", "account", account)
	default:
		slog.Warn("api: compute failed", "account", account, "err", err)
		jsonErr(w, http.StatusBadGateway, "upstream failure: "+err.Error())
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// BuildProfiles returns every fresh profile in st, ordered by account.
// It backs GET /api/v1/profiles and the WebSocket broadcast.
func BuildProfiles(st *store.Store) []ProfileResponse {
	entries := st.List()
	out := make([]ProfileResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toProfileResponse(e))
	}
	return out
}

// toProfileResponse maps a store.Entry to its JSON representation.
func toProfileResponse(e *store.Entry) ProfileResponse {
	return ProfileResponse{
		Account:   e.Profile.Account,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		Profile:   e.Profile,
	}
}
