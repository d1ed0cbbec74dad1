// Package server implements the BleepDrive HTTP gateway. It serves files
// from the configured disks and verifies HMAC signed URLs for disks that
// issue them.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/bleepdrive/internal/config"
	"github.com/bleepstore/bleepdrive/internal/drive"
)

// Server is the BleepDrive HTTP gateway.
type Server struct {
	cfg        *config.Config
	drive      *drive.Manager
	router     chi.Router
	api        huma.API
	httpServer *http.Server
}

// HealthCheck is the result of one disk's health probe.
type HealthCheck struct {
	Status string `json:"status" example:"ok" doc:"ok or error"`
	Error  string `json:"error,omitempty" doc:"Failure detail"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]HealthCheck `json:"checks,omitempty" doc:"Per-disk checks"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// DiskInfo describes one configured disk.
type DiskInfo struct {
	Name    string `json:"name" example:"local"`
	Driver  string `json:"driver" example:"local"`
	Default bool   `json:"default"`
}

// DisksOutput is the Huma output struct for the disk listing.
type DisksOutput struct {
	Body struct {
		Disks []DiskInfo `json:"disks"`
	}
}

// New creates a Server for cfg serving the disks of mgr.
func New(cfg *config.Config, mgr *drive.Manager) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("BleepDrive API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		drive:  mgr,
		router: router,
		api:    api,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> recoverer -> commonHeaders -> requestLogger -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = requestLogger(handler)
	handler = commonHeaders(handler)
	handler = middleware.Recoverer(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	if s.cfg.Observability.HealthCheck {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-health",
			Method:      http.MethodGet,
			Path:        "/health",
			Summary:     "Health check",
			Description: "Returns the health status of the gateway and of every disk that supports a health probe.",
			Tags:        []string{"System"},
		}, s.health)

		// Register HEAD /health separately (Huma only does one method per registration).
		s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-disks",
		Method:      http.MethodGet,
		Path:        "/disks",
		Summary:     "List disks",
		Description: "Returns the configured disks and their drivers.",
		Tags:        []string{"Drive"},
	}, func(ctx context.Context, input *struct{}) (*DisksOutput, error) {
		out := &DisksOutput{}
		out.Body.Disks = make([]DiskInfo, 0, len(s.drive.Names()))
		for _, name := range s.drive.Names() {
			d, err := s.drive.Disk(name)
			if err != nil {
				continue
			}
			out.Body.Disks = append(out.Body.Disks, DiskInfo{
				Name:    name,
				Driver:  d.Driver(),
				Default: name == s.drive.DefaultName(),
			})
		}
		return out, nil
	})

	s.router.Route("/files/{disk}", func(r chi.Router) {
		r.Get("/*", s.getFile)
		r.Head("/*", s.headFile)
		r.Put("/*", s.putFile)
		r.Delete("/*", s.deleteFile)
	})
}

func (s *Server) health(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	failed := s.drive.HealthCheck(ctx)
	if len(failed) == 0 {
		return out, nil
	}
	out.Status = http.StatusServiceUnavailable
	out.Body.Status = "degraded"
	out.Body.Checks = make(map[string]HealthCheck, len(failed))
	for name, err := range failed {
		out.Body.Checks[name] = HealthCheck{Status: "error", Error: err.Error()}
	}
	return out, nil
}
