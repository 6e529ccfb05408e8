//	@title			Media Store API
//	@version		1.0
//	@description	Minimal self-hosted object store for images. Upload a file, get a stable public URL back; anyone holding the URL can retrieve or delete the object.
//
//	@host		localhost:8080
//	@BasePath	/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/mediastore/service/internal/config"
	"github.com/mediastore/service/internal/media"
	appMiddleware "github.com/mediastore/service/internal/middleware"

	_ "github.com/mediastore/service/docs/swagger"
)

func main() {
	cfg := config.Load()

	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	store, err := newStore(cfg)
	if err != nil {
		logrus.Fatalf("object store init failed: %v", err)
	}

	mediaHandler := media.NewHandler(store, cfg.PublicBaseURL, cfg.MaxUploadBytes)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health checks
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"media-store"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI — available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Post("/upload", mediaHandler.Upload)
	r.Route("/media", func(r chi.Router) {
		r.Get("/", mediaHandler.List)
		r.Get("/{filename}", mediaHandler.Serve)
		r.Delete("/{filename}", mediaHandler.Delete)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":    cfg.Port,
			"env":     cfg.AppEnv,
			"backend": cfg.StorageBackend,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	logrus.Info("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Fatalf("forced shutdown: %v", err)
	}

	logrus.Info("server stopped")
}

// newStore builds the configured storage backend.
func newStore(cfg *config.Config) (media.Store, error) {
	if cfg.StorageBackend == "s3" {
		return media.NewS3Store(
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.StorageBucket,
			cfg.StorageUseSSL,
			cfg.MaxUploadBytes,
			cfg.AllowedExts,
		)
	}
	return media.NewDiskStore(cfg.MediaRoot, cfg.MaxUploadBytes, cfg.AllowedExts)
}
