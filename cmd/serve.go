package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/handler"
	"github.com/chrischoy/MediaWhisperer/middleware"
	"github.com/chrischoy/MediaWhisperer/pkg/metrics"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded successfully")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize services
	users, err := service.NewUserStore(cfg.Users)
	if err != nil {
		return fmt.Errorf("initialize users: %w", err)
	}

	pipeline, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	conversationStore, closeStore, err := newConversationStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	router := newRouter(cfg, users, pipeline, service.NewConversationService(conversationStore, pipeline))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute, // conversion runs inside the request
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}

func newRouter(cfg *config.Config, users *service.UserStore, pipeline *service.Pipeline, conversations *service.ConversationService) *gin.Engine {
	authHandler := handler.NewAuthHandler(&cfg.Auth, users)
	documentHandler := handler.NewDocumentHandler(pipeline, cfg.Storage.MaxUploadSize)
	conversationHandler := handler.NewConversationHandler(conversations)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	router.Use(middleware.Metrics())       // Request counters
	router.Use(corsMiddleware())           // CORS
	router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/pdf/upload", documentHandler.Upload)
		protected.POST("/pdf/from-url", documentHandler.FromURL)
		protected.GET("/pdf/list", documentHandler.List)
		protected.GET("/pdf/:id", documentHandler.Get)
		protected.GET("/pdf/:id/content", documentHandler.GetContent)
		protected.GET("/pdf/:id/summary", documentHandler.GetSummary)
		protected.GET("/pdf/:id/status", documentHandler.GetStatus)
		protected.GET("/pdf/:id/images/:filename", documentHandler.GetImage)
		protected.DELETE("/pdf/:id", documentHandler.Delete)

		protected.POST("/conversations", conversationHandler.Create)
		protected.GET("/conversations", conversationHandler.List)
		protected.GET("/conversations/:id", conversationHandler.Get)
		protected.POST("/conversations/:id/messages", conversationHandler.AddMessage)
		protected.DELETE("/conversations/:id", conversationHandler.Delete)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
