package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pravatus-technologies/spreed/internal/auth"
	"github.com/pravatus-technologies/spreed/internal/config"
	"github.com/pravatus-technologies/spreed/internal/database"
	"github.com/pravatus-technologies/spreed/internal/dispatch"
	"github.com/pravatus-technologies/spreed/internal/guestname"
	"github.com/pravatus-technologies/spreed/internal/handlers"
	"github.com/pravatus-technologies/spreed/internal/participants"
	"github.com/pravatus-technologies/spreed/internal/services"
	"github.com/pravatus-technologies/spreed/internal/signaling"
	"github.com/pravatus-technologies/spreed/internal/standalone"
	"github.com/pravatus-technologies/spreed/internal/tasks"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Runtime attendee state and the reconciliation core
	store := participants.NewStore()
	mutator := participants.NewMutator(store)
	registry := signaling.NewRegistry()

	guestNames, err := guestname.NewRedisRecorder(cfg.Redis.URL, cfg.Redis.GuestNameTTL)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}
	defer guestNames.Close()

	reconciler := signaling.NewReconciler(registry, store, mutator, guestNames)
	conversationService := services.NewConversationService(db, store)

	// Background resync of stale attendee lists
	resyncClient, err := tasks.NewClient(cfg.Redis.URL, cfg.Signaling.ResyncDelay)
	if err != nil {
		logger.Fatal("Failed to create task client: %v", err)
	}
	defer resyncClient.Close()

	taskServer, err := tasks.NewServer(cfg.Redis.URL, cfg.Tasks.Concurrency)
	if err != nil {
		logger.Fatal("Failed to create task server: %v", err)
	}
	taskServer.RegisterResync(conversationService)
	go func() {
		if err := taskServer.Run(ctx); err != nil {
			logger.Error("Task server error: %v", err)
		}
	}()

	// Per-conversation serial dispatch
	dispatcher := dispatch.NewDispatcher(cfg.Signaling.WorkerIdleTimeout)
	defer dispatcher.Close()

	// Standalone signaling connection (optional)
	if cfg.Signaling.StandaloneURL != "" {
		router := standalone.NewRouter(dispatcher, registry, reconciler, resyncClient)
		client := standalone.NewClient(cfg.Signaling.StandaloneURL, cfg.Signaling.ReconnectInterval, router)
		go client.Run(ctx)
	}

	// Log committed participant updates for observability
	events, cancelEvents := mutator.Subscribe(128)
	defer cancelEvents()
	go func() {
		for event := range events {
			logger.Debug("Participant %d in conversation %s updated: inCall=%d sessions=%d",
				event.Attendee.AttendeeID, event.Token, event.Attendee.InCall, len(event.Attendee.SessionIDs))
		}
	}()

	// Initialize handlers
	authService := auth.NewService(cfg)
	signalingHandlers := handlers.NewSignalingHandlers(dispatcher, reconciler, resyncClient)
	participantHandlers := handlers.NewParticipantHandlers(conversationService)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authService, signalingHandlers, participantHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Signaling participant service started on http://localhost%s", cfg.Server.Port)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	cancel()
}

func setupRoutes(mux *http.ServeMux, authService *auth.Service, signalingHandlers *handlers.SignalingHandlers, participantHandlers *handlers.ParticipantHandlers) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Conversation sub-routes
	conversations := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 || len(parts) > 5 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		token := parts[2]

		// /conversations/{token}/participants/{attendeeId}
		if len(parts) == 5 {
			if parts[3] != "participants" {
				http.Error(w, "endpoint not found", http.StatusNotFound)
				return
			}
			attendeeID, err := strconv.ParseInt(parts[4], 10, 64)
			if err != nil {
				http.Error(w, "invalid attendee id", http.StatusBadRequest)
				return
			}
			switch r.Method {
			case http.MethodPut:
				participantHandlers.UpdateParticipant(w, r, token, attendeeID)
			case http.MethodDelete:
				participantHandlers.RemoveParticipant(w, r, token, attendeeID)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		// /conversations/{token}/signaling
		if parts[3] == "signaling" && r.Method == http.MethodPost {
			signalingHandlers.HandleInternalSnapshot(w, r, token)
			return
		}

		// /conversations/{token}/participants
		if parts[3] == "participants" {
			switch r.Method {
			case http.MethodGet:
				participantHandlers.ListParticipants(w, r, token)
			case http.MethodPost:
				participantHandlers.AddParticipant(w, r, token)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		// /conversations/{token}/sync
		if parts[3] == "sync" && r.Method == http.MethodPost {
			participantHandlers.SyncParticipants(w, r, token)
			return
		}

		http.Error(w, "endpoint not found", http.StatusNotFound)
	})
	mux.Handle("/conversations/", authService.Middleware(conversations))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /conversations/{token}/signaling")
	logger.Info("   GET  /conversations/{token}/participants")
	logger.Info("   POST /conversations/{token}/participants")
	logger.Info("   PUT  /conversations/{token}/participants/{attendeeId}")
	logger.Info("   DELETE /conversations/{token}/participants/{attendeeId}")
	logger.Info("   POST /conversations/{token}/sync")
	logger.Info("   GET  /healthz")
}
