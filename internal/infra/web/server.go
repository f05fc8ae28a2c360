// File: internal/infra/web/server.go
package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"docqueue/internal/domain"
	"docqueue/internal/usecase"
)

// Server exposes the queue over HTTP: a worker API for leasing and
// reporting work, an admin API for operating on jobs, and the health
// and metrics endpoints.
type Server struct {
	jobUC  usecase.JobUseCase
	apiKey string
	auth   *AuthManager
	log    *zerolog.Logger
}

func NewServer(jobUC usecase.JobUseCase, apiKey string, auth *AuthManager, logger *zerolog.Logger) *Server {
	return &Server{
		jobUC:  jobUC,
		apiKey: apiKey,
		auth:   auth,
		log:    logger,
	}
}

// Routes assembles the full HTTP surface. Health, metrics and login are
// open; everything under /api/v1 needs a credential, and destructive job
// operations additionally need the admin role.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log), Timeout(30*time.Second))

	r.Get("/healthz", healthHandler(s.jobUC))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", loginHandler(s.apiKey, s.auth, s.log))
		r.Post("/auth/logout", logoutHandler(s.auth))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/jobs", jobSubmitHandler(s.jobUC))
			r.Get("/jobs/{jobID}", jobStatusHandler(s.jobUC))
			r.Get("/jobs/{jobID}/results", jobResultsHandler(s.jobUC))
			r.Post("/jobs/{jobID}/progress", jobProgressHandler(s.jobUC))
			r.Post("/workers/poll", workerPollHandler(s.jobUC))
			r.Post("/tasks/{taskID}/complete", taskCompleteHandler(s.jobUC))

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Delete("/jobs/{jobID}", jobCancelHandler(s.jobUC))
				r.Post("/jobs/{jobID}/retry", jobRetryHandler(s.jobUC))
				r.Get("/queue/metrics", queueMetricsHandler(s.jobUC))
			})
		})
	})

	return r
}

type ctxKeyClaims struct{}

// authMiddleware admits requests carrying either the static API key or a
// minted session token. Resolved claims land in the request context so
// requireAdmin can check the role without re-parsing.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves the request credential. The static API key acts
// as a full admin credential; anything else must be a valid session token.
func (s *Server) authenticate(r *http.Request) (*AdminClaims, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			raw := strings.TrimSpace(parts[1])
			if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(s.apiKey)) == 1 {
				return &AdminClaims{Role: "admin"}, nil
			}
		}
	}

	claims, err := s.auth.ParseFromRequest(r)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// requireAdmin gates destructive job operations on the session role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(ctxKeyClaims{}).(*AdminClaims)
		if !ok || claims.Role != "admin" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
