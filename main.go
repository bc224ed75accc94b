package main

import (
	"net/http"
	"time"

	"chatwise/config"
	"chatwise/internal/adapters/graph"
	"chatwise/internal/db"
	"chatwise/internal/handlers"
	"chatwise/internal/models"
	"chatwise/internal/queue"
	"chatwise/internal/services"
	"chatwise/internal/store"
	"chatwise/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Migrate(conn, &models.Tenant{}, &models.InboundEvent{}, &models.ReplyRule{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	st, err := store.New(conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	graphClient, err := graph.NewClient(cfg.GraphBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize graph client")
	}

	publisher := queue.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	defer publisher.Close()

	ruleEngine, err := services.NewRuleEngine(st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rule engine")
	}
	dispatcher, err := services.NewDispatcher(st, ruleEngine, graphClient, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dispatcher")
	}
	ingestor, err := services.NewIngestor(st, dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ingestor")
	}
	reconciler, err := services.NewReconciler(st, graphClient, dispatcher, cfg.ReconcileWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize reconciler")
	}

	webhookHandler, err := handlers.NewWebhookHandler(ingestor, cfg.WebhookVerifyToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize webhook handler")
	}
	ruleHandler, err := handlers.NewRuleHandler(st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rule handler")
	}
	accountHandler, err := handlers.NewAccountHandler(st, graphClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize account handler")
	}
	eventHandler, err := handlers.NewEventHandler(st, ingestor, reconciler)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event handler")
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc(cfg.WebhookPath, webhookHandler.Handle).Methods(http.MethodGet, http.MethodPost)

	router.HandleFunc("/accounts/connect", accountHandler.Connect).Methods(http.MethodPost)

	tenants := router.PathPrefix("/tenants/{tenantID}").Subrouter()
	tenants.HandleFunc("/disconnect", accountHandler.Disconnect).Methods(http.MethodPost)
	tenants.HandleFunc("/status", accountHandler.Status).Methods(http.MethodGet)
	tenants.HandleFunc("/subscribe", accountHandler.Subscribe).Methods(http.MethodPost)

	tenants.HandleFunc("/rules", ruleHandler.List).Methods(http.MethodGet)
	tenants.HandleFunc("/rules", ruleHandler.Create).Methods(http.MethodPost)
	tenants.HandleFunc("/rules/{ruleID}", ruleHandler.Update).Methods(http.MethodPatch, http.MethodPut)
	tenants.HandleFunc("/rules/{ruleID}", ruleHandler.Delete).Methods(http.MethodDelete)

	tenants.HandleFunc("/messages", eventHandler.ListMessages).Methods(http.MethodGet)
	tenants.HandleFunc("/comments", eventHandler.ListComments).Methods(http.MethodGet)
	tenants.HandleFunc("/conversations", eventHandler.Conversations).Methods(http.MethodGet)
	tenants.HandleFunc("/stats", eventHandler.Stats).Methods(http.MethodGet)
	tenants.HandleFunc("/sync-comments", eventHandler.SyncComments).Methods(http.MethodPost)
	tenants.HandleFunc("/test-comment", eventHandler.InjectComment).Methods(http.MethodPost)

	chain := alice.New(
		recoverMiddleware,
		hlog.NewHandler(log.Logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Msg("Request handled")
		}),
	).Then(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", cfg.Port).Str("webhookPath", cfg.WebhookPath).Msg("Server starting")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
