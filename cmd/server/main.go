package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"

	"github.com/eternisai/wa-bridge/internal/api"
	"github.com/eternisai/wa-bridge/internal/authn"
	"github.com/eternisai/wa-bridge/internal/blob"
	"github.com/eternisai/wa-bridge/internal/bot"
	"github.com/eternisai/wa-bridge/internal/config"
	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/media"
	"github.com/eternisai/wa-bridge/internal/session"
	"github.com/eternisai/wa-bridge/internal/store"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting wa-bridge", "gin_mode", cfg.GinMode)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
	if err != nil {
		log.Error("failed to dial firestore", "error", err.Error())
		os.Exit(1)
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Error("failed to dial cloud storage", "error", err.Error())
		os.Exit(1)
	}
	defer storageClient.Close()

	validator, err := authn.NewJWKSValidator(cfg.JWTJWKSURL)
	if err != nil {
		log.Error("failed to initialize token validator", "error", err.Error())
		os.Exit(1)
	}

	docStore := store.New(firestoreClient)
	mediaCache := media.New(cfg.MediaCacheTTL)
	blobStore := blob.New(storageClient, cfg.MediaBucket, mediaCache)

	b := bot.Build(log, cfg, docStore, mediaCache, blobStore, platformClientFactory(log))

	if restored, err := b.Supervisor.RestoreAllFromFs(ctx); err != nil {
		log.Error("failed to restore sessions from disk", "error", err.Error())
	} else if restored > 0 {
		log.Info("restored sessions from disk", "count", restored)
	}

	b.Run()

	server := api.NewServer(log, b, validator, cfg.PolicyCacheTTL)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	server.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", "error", err.Error())
	}
	if err := b.Shutdown(cfg.ServerShutdownTimeout); err != nil {
		log.Error("bot shutdown timed out", "error", err.Error())
	}

	log.Info("shutdown complete")
}

// corsMiddleware mirrors the teacher's CORS handling: a fixed allow-list of
// origins and methods for the thin admin-facing surface this process
// exposes, rather than pulling in a dedicated CORS library for three header
// writes.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// platformClientFactory returns the ClientFactory this process wires
// SessionSupervisor with. The chat-platform client library itself is an
// external collaborator (SPEC_FULL.md §1) with no in-repo implementation;
// this is the integration seam a deployment swaps in a real adapter behind.
func platformClientFactory(log *logger.Logger) session.ClientFactory {
	return func(accountID, label, authDir string) session.PlatformClient {
		log.Warn("no production chat-platform client wired; using a no-op placeholder",
			"account_id", accountID, "label", label)
		return session.NewFakePlatformClient()
	}
}
