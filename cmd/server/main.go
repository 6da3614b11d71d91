package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsboard/opsboard-backend/internal/audit"
	"github.com/opsboard/opsboard-backend/internal/auth"
	"github.com/opsboard/opsboard-backend/internal/directory"
	"github.com/opsboard/opsboard-backend/internal/flags"
	incidenthandler "github.com/opsboard/opsboard-backend/internal/incident/handler"
	incidentrepo "github.com/opsboard/opsboard-backend/internal/incident/repository"
	incidentservice "github.com/opsboard/opsboard-backend/internal/incident/service"
	"github.com/opsboard/opsboard-backend/internal/jobs"
	"github.com/opsboard/opsboard-backend/pkg/config"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/httputil"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/messaging"
	"github.com/opsboard/opsboard-backend/pkg/ratelimit"
)

const serviceName = "opsboard-server"

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// The broker is optional; without it mutations still commit and only the
	// event fan-out is skipped.
	var rmq *messaging.RabbitMQ
	var publisher *messaging.Publisher
	if cfg.RabbitMQ.Enabled() {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = messaging.NewPublisher(rmq, messaging.ExchangeIncidentEvents, serviceName, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ not configured, event publishing disabled")
	}

	// Repositories
	directoryRepo := directory.NewRepository(db)
	incidentRepo := incidentrepo.NewIncidentRepository(db)
	timelineRepo := incidentrepo.NewTimelineRepository(db)
	attachmentRepo := incidentrepo.NewAttachmentRepository(db)
	savedViewRepo := incidentrepo.NewSavedViewRepository(db)
	flagRepo := flags.NewRepository(db)
	auditRecorder := audit.NewRecorder(db)
	jobRepo := jobs.NewRepository(db)

	// Services
	var eventPublisher incidentservice.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}
	events := incidentservice.NewEvents(eventPublisher, log)
	incidentSvc := incidentservice.NewService(
		db, incidentRepo, timelineRepo, attachmentRepo, savedViewRepo,
		directoryRepo, auditRecorder, jobRepo, events, log,
	)
	flagSvc := flags.NewService(db, flagRepo, auditRecorder, log)

	// Auth
	sessions := auth.NewSessions(&cfg.Session, cfg.Server.Environment)
	authMW := auth.NewMiddleware(sessions, directoryRepo, log)
	authHandler := auth.NewHandler(sessions, directoryRepo, log)

	// Handlers
	incidentHandler := incidenthandler.NewHandler(incidentSvc, log)
	streamHandler := incidenthandler.NewStreamHandler(incidentRepo, timelineRepo, cfg.Realtime.PollInterval, log)
	flagHandler := flags.NewHandler(flagSvc, log)
	auditHandler := audit.NewHandler(auditRecorder, log)

	limiter := ratelimit.New()

	// Background worker, embedded in the server process.
	var jobPublisher jobs.NotificationPublisher
	if publisher != nil {
		jobPublisher = publisher
	}
	jobHandlers := jobs.NewHandlers(attachmentRepo, incidentRepo, timelineRepo, jobPublisher, log)
	worker := jobs.NewWorker(jobRepo, jobHandlers, cfg.Worker, log)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Start(workerCtx)

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.CSRF)
	r.Use(ratelimit.Middleware(limiter, authMW.Principal))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		health := map[string]interface{}{
			"service":  serviceName,
			"database": db.Health(req.Context()),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	mountAPI := func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", incidentHandler.List)
			r.With(auth.RequireWriter).Post("/", incidentHandler.Create)
			r.With(auth.RequireWriter).Post("/bulk-action", incidentHandler.BulkAction)

			r.Route("/{incidentID}", func(r chi.Router) {
				r.Get("/", incidentHandler.Get)
				r.Get("/stream", streamHandler.Stream)
				r.With(auth.RequireWriter).Patch("/", incidentHandler.ChangeStatus)
				r.With(auth.RequireWriter).Post("/assign", incidentHandler.Assign)
				r.With(auth.RequireWriter).Post("/timeline", incidentHandler.AddTimelineEvent)

				r.Route("/attachments", func(r chi.Router) {
					r.With(auth.RequireWriter).Post("/", incidentHandler.AddAttachment)
					r.With(auth.RequireWriter).Delete("/{attachmentID}", incidentHandler.DeleteAttachment)
				})
			})
		})

		r.Route("/feature-flags", func(r chi.Router) {
			r.Get("/", flagHandler.List)
			r.With(auth.RequireWriter).Post("/", flagHandler.Create)

			r.Route("/{flagID}", func(r chi.Router) {
				r.Get("/", flagHandler.Get)
				r.With(auth.RequireWriter).Patch("/", flagHandler.Update)
				r.With(auth.RequireWriter).Delete("/", flagHandler.Delete)
				r.Post("/evaluate", flagHandler.Evaluate)
				r.With(auth.RequireWriter).Post("/rules", flagHandler.AddRule)
				r.With(auth.RequireWriter).Delete("/rules/{ruleID}", flagHandler.DeleteRule)
			})
		})

		r.Route("/saved-views", func(r chi.Router) {
			r.Get("/", incidentHandler.ListViews)
			r.With(auth.RequireWriter).Post("/", incidentHandler.CreateView)
			r.With(auth.RequireWriter).Delete("/{viewID}", incidentHandler.DeleteView)
		})

		r.With(auth.RequireAdmin).Get("/audit-logs", auditHandler.List)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Authenticate)
			r.Post("/auth/switch-tenant", authHandler.SwitchTenant)
			mountAPI(r)
		})
	})

	// UI-facing routes carry the tenant slug in the path; the session tenant
	// is overridden by it.
	r.Route("/t/{tenantSlug}/api", func(r chi.Router) {
		r.Use(authMW.Authenticate)
		mountAPI(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// SSE connections outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("server stopped")
}
