package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the bridge routing tree.
func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/events", api.hub.ServeWS)
		apiRouter.Group(func(feedback chi.Router) {
			feedback.Use(middleware.Timeout(20 * time.Second))
			feedback.Post("/shown", api.Shown)
			feedback.Post("/screenshot", api.Screenshot)
			feedback.Post("/stats", api.Stats)
			feedback.Post("/command-result", api.CommandResult)
			feedback.Post("/collect", api.Collect)
		})
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
