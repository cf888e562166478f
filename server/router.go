package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zkidentity/attest/server/api"
)

func setupRouter(server *api.Server, cfg *ServeConfig, logger Logger) *chi.Mux {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestSize))

	// CORS middleware
	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Compression
	r.Use(middleware.Compress(5))

	// Health and readiness
	r.Get("/health", server.HandleHealth)

	// Verification key info
	r.Get("/keys", server.HandleListKeys)

	// Identity registry
	r.Get("/identities", server.HandleRegistryStats)
	r.Post("/identities", server.HandleRegisterIdentity)
	r.Get("/identities/{owner}", server.HandleGetIdentity)
	r.Get("/identities/{owner}/proof", server.HandleIdentityProof)
	r.Get("/identities/{owner}/audits", server.HandleIdentityAudits)
	r.Post("/identities/{owner}/revoke", server.HandleRevokeIdentity)

	// Challenge protocol
	r.Post("/challenges", server.HandleCreateChallenge)
	r.Get("/challenges/{id}", server.HandleGetChallenge)
	r.Post("/challenges/{id}/response", server.HandleRespondChallenge)
	r.Post("/challenges/{id}/verify", server.HandleVerifyChallenge)

	// Pprof (debug only)
	if cfg.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}

	return r
}
