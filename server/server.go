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
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/dmarcwatch/api"
	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/internal/cron"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/tracing"
	"github.com/customeros/dmarcwatch/services"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
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
	repos := repository.InitRepositories(db)

	// Initialize services
	svcs := services.InitServices(cfg, appLogger, repos)

	// Cron jobs run on the elected leader only; outside a cluster the
	// manager falls back to local mode.
	cronManager := cron.NewCronManager(cfg, appLogger, k8sClient(appLogger), svcs.GeolocationService, repos.IPLocationRepository)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

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

func k8sClient(log logger.Logger) kubernetes.Interface {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Infof("No in-cluster kubernetes config, cron runs in local mode: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		log.Warnf("Could not create kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	// Start the enrichment queue, then seed it with whatever the previous
	// run left unresolved.
	s.services.GeolocationService.Start(ctx)
	queued, err := s.services.GeolocationService.ScanUnresolved(ctx)
	if err != nil {
		return err
	}
	if queued > 0 {
		s.log.Infof("Queued %d unresolved IPs from previous run", queued)
	}

	// Pick up a reprocess job interrupted by a restart
	if err := s.services.ReprocessService.ResumeOnStartup(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

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

	// Start cron jobs with panic recovery
	s.wrapGoroutine("cron_manager", func() {
		podName := os.Getenv("POD_NAME")
		namespace := os.Getenv("POD_NAMESPACE")
		if namespace == "" {
			namespace = "default"
		}
		if err := s.cronManager.Start(podName, namespace); err != nil {
			log.Printf("❌ Cron manager error: %v", err)
		}
	})
	log.Println("✅ Cron manager started successfully")

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("DmarcWatch is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Drain the enrichment queue loop with timeout and panic recovery
	log.Println("Stopping geolocation queue...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("geolocation_shutdown", func() {
		defer close(stopDone)
		s.services.GeolocationService.Stop()
		s.cronManager.Stop()
	})

	select {
	case <-stopDone:
		log.Println("✅ Background services stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Background service stop timed out, forcing exit")
	}

	return nil
}
