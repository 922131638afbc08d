package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/api"
	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/internal/cron"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/repository"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/services"
)

type Server struct {
	config       *config.Config
	log          *logger.AppLogger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, mailsyncDB *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(mailsyncDB)

	// This host's identity for account sync ownership
	fqdn := cfg.AppConfig.FQDN
	if fqdn == "" {
		fqdn, err = os.Hostname()
		if err != nil {
			return nil, err
		}
	}

	// Initialize services
	svcs, err := services.InitServices(cfg, fqdn, appLogger, repos)
	if err != nil {
		return nil, err
	}

	// Scheduled maintenance jobs
	cronManager := cron.NewCronManager(appLogger, svcs.TokenManager, svcs.SyncService)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	// Setup API routes
	api.RegisterRoutes(s.router, s.services, s.config.AppConfig.APIKey)

	// Restart sync for accounts this host owned before the restart
	log.Println("Rehydrating account sync...")
	if err := s.services.SyncService.Rehydrate(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		// Create a new span for the panic
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		// Mark span as failed
		ext.Error.Set(span, true)

		// Log panic details
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start scheduled jobs
	s.cronManager.Start()

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("Mailsync is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server
	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop account sync. Host claims stay in place so the next boot
	// rehydrates the same accounts.
	log.Println("Stopping account sync...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("sync_shutdown", func() {
		defer close(stopDone)
		s.services.SyncService.Shutdown(shutdownCtx)
	})

	// Wait for sync workers to stop with timeout
	select {
	case <-stopDone:
		log.Println("✅ Account sync stopped successfully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Account sync stop timed out, forcing exit")
	}

	// Stop scheduled jobs
	s.cronManager.Stop()

	// Close the event publisher connection
	if err := s.services.EventsService.Close(); err != nil {
		log.Printf("❌ Event publisher shutdown error: %v", err)
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
	s.log.Sync()

	return nil
}
