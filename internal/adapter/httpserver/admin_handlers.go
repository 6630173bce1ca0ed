package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/usecase"
)

// AdminServer exposes the operator-facing JSON API: login/logout plus
// session stats, recent analysis runs and a privileged session reset.
type AdminServer struct {
	cfg      config.Config
	sessions *SessionManager
	results  usecase.ResultService

	// Argon2id hash of the configured admin password, computed at startup
	// so login never compares plaintext.
	passwordHash string
}

// NewAdminServer hashes the configured credentials and prepares the admin
// routes. Returns an error when admin credentials are not configured.
func NewAdminServer(cfg config.Config, results usecase.ResultService) (*AdminServer, error) {
	if !cfg.AdminEnabled() {
		return nil, fmt.Errorf("op=admin.new: admin credentials not configured")
	}
	hash, err := HashPassword(cfg.AdminPassword, defaultArgon2Params)
	if err != nil {
		return nil, fmt.Errorf("op=admin.new: hash password: %w", err)
	}
	return &AdminServer{
		cfg:          cfg,
		sessions:     NewSessionManager(cfg),
		results:      results,
		passwordHash: hash,
	}, nil
}

// MountRoutes attaches the admin endpoints to the router.
func (a *AdminServer) MountRoutes(r chi.Router) {
	r.Post("/admin/login", a.LoginHandler())
	r.Post("/admin/logout", a.LogoutHandler())
	r.Route("/admin/api", func(r chi.Router) {
		r.Use(a.sessions.AuthRequired)
		r.Get("/stats", a.StatsHandler())
		r.Get("/analyses", a.AnalysesHandler())
		r.Post("/session/reset", a.SessionResetHandler())
	})
}

// LoginHandler verifies credentials and issues the HMAC session cookie.
func (a *AdminServer) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.cfg.AdminUsername)) == 1
		passOK := VerifyPassword(req.Password, a.passwordHash)
		if !userOK || !passOK {
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: "UNAUTHORIZED", Message: "invalid credentials"}})
			return
		}
		sessionValue, err := a.sessions.CreateSession(req.Username)
		if err != nil {
			writeError(w, r, domain.ErrInternal, nil)
			return
		}
		a.sessions.SetSessionCookie(w, sessionValue)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "username": req.Username})
	}
}

// LogoutHandler clears the session cookie.
func (a *AdminServer) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a.sessions.ClearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatsHandler reports counts and redaction totals for the current session.
func (a *AdminServer) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := a.results.Stats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := map[string]any{
			"has_job":       stats.HasJob,
			"resumes":       stats.Resumes,
			"rankings":      stats.Rankings,
			"pii_redacted":  stats.PIIRedacted,
			"bias_redacted": stats.BiasRedacted,
		}
		if stats.HasJob {
			resp["job_filename"] = stats.JobFilename
			resp["job_uploaded_at"] = stats.JobUploaded.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// AnalysesHandler lists recent analysis runs, newest first.
func (a *AdminServer) AnalysesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 100", domain.ErrInvalidArgument), map[string]string{"field": "limit"})
				return
			}
			limit = n
		}
		analyses, err := a.results.RecentAnalyses(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]map[string]any, 0, len(analyses))
		for _, an := range analyses {
			out = append(out, analysisEnvelope(an))
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": out, "count": len(out)})
	}
}

// SessionResetHandler clears the session on behalf of an operator.
func (a *AdminServer) SessionResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.results.ResetSession(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}
