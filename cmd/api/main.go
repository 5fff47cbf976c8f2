// Package main is the entry point for the videorag API server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"videorag/internal/config"
	"videorag/internal/crypto"
	"videorag/internal/database"
	"videorag/internal/handlers"
	"videorag/internal/llmclient"
	"videorag/internal/models"
	"videorag/internal/rag"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Critical error! Failed to connect to the database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("Critical error during database migration: %v", err)
	}

	channels := database.NewChannelRepository(db)
	videos := database.NewVideoRepository(db)
	chunks := database.NewChunkRepository(db)
	tasks := database.NewTaskStore(db)
	chat := database.NewChatRepository(db)
	settings := database.NewSettingsRepository(db, cfg.SettingsEncryptionKey, crypto.Encrypt, crypto.Decrypt)
	retrieval := database.NewRetrievalRepository(db, cfg.VectorWeight, cfg.TextWeight)

	if err := seedDefaultSettings(settings); err != nil {
		log.Fatalf("Critical error seeding default settings: %v", err)
	}

	llm := llmclient.New(cfg.LLMServiceURL, cfg.OpenAIAPIKey, cfg.LLMModel, cfg.HTTPClientTimeout)

	orchestrator := &rag.Orchestrator{
		Chat:              chat,
		Videos:            videos,
		Chunks:            chunks,
		Tasks:             tasks,
		Retrieval:         retrieval,
		LLM:               llm,
		SQLAgent:          rag.NewSQLAgent(db, llm),
		TopK:              cfg.TopK,
		DefaultVideoLimit: cfg.MaxVideosDefault,
		EmbedPollInterval: cfg.EmbedWaitInterval,
		EmbedWaitTimeout:  cfg.EmbedWaitTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := setupRouter(cfg, db, channels, videos, settings, chat, orchestrator, tasks)
	srv := &http.Server{Addr: cfg.ServerAddr, Handler: router}

	go func() {
		log.Printf("videorag api listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed with error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutdown signal received. Starting graceful shutdown...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Error during graceful server shutdown: %v", err)
	}
	log.Println("Exiting.")
}

// seedDefaultSettings registers the defaults that make the pipeline/retriever
// tunables visible and editable through the Settings API even before any
// operator has touched them (spec.md §3 Setting entity).
func seedDefaultSettings(settings *database.SettingsRepository) error {
	defaults := []models.Setting{
		{Component: "pipeline", Section: "ingest", Key: "max_videos_default", Value: "50", ValueType: models.SettingTypeInt},
		{Component: "pipeline", Section: "embed", Key: "batch_size", Value: "32", ValueType: models.SettingTypeInt},
		{Component: "retriever", Section: "hybrid", Key: "top_k", Value: "8", ValueType: models.SettingTypeInt},
		{Component: "retriever", Section: "hybrid", Key: "vector_weight", Value: "0.7", ValueType: models.SettingTypeFloat},
		{Component: "retriever", Section: "hybrid", Key: "text_weight", Value: "0.3", ValueType: models.SettingTypeFloat},
	}
	return settings.SeedDefaults(context.Background(), defaults)
}

func setupRouter(
	cfg *config.AppConfig,
	db *database.DB,
	channels *database.ChannelRepository,
	videos *database.VideoRepository,
	settings *database.SettingsRepository,
	chat *database.ChatRepository,
	orchestrator *rag.Orchestrator,
	tasks *database.TaskStore,
) *chi.Mux {
	channelHandler := &handlers.ChannelHandler{Channels: channels, Videos: videos}
	videoHandler := &handlers.VideoHandler{Videos: videos}
	chatHandler := &handlers.ChatHandler{Chat: chat, Orchestrator: orchestrator}
	pipelineHandler := &handlers.PipelineHandler{Tasks: tasks}
	settingsHandler := &handlers.SettingsHandler{Settings: settings}
	healthHandler := &handlers.HealthHandler{DB: db}

	r := chi.NewRouter()
	setupCORS(r, cfg)
	r.Use(chimiddleware.Logger, chimiddleware.Recoverer)

	r.Get("/api/v1/health", healthHandler.Get)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", channelHandler.List)
			r.Post("/", channelHandler.Create)
			r.Get("/{id}", channelHandler.Get)
			r.Patch("/{id}", channelHandler.Update)
			r.Delete("/{id}", channelHandler.Delete)
		})

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", videoHandler.List)
			r.Get("/{video_id}", videoHandler.Get)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/sessions", chatHandler.ListSessions)
			r.Get("/sessions/{id}", chatHandler.GetSession)
			r.Delete("/sessions/{id}", chatHandler.DeleteSession)
			r.Post("/ask_stream", chatHandler.AskStream)
		})

		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/stats", pipelineHandler.Stats)
			r.Get("/events", pipelineHandler.Events)
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", pipelineHandler.ListTasks)
				r.Post("/", pipelineHandler.CreateTask)
				r.Get("/{id}", pipelineHandler.GetTask)
				r.Delete("/{id}", pipelineHandler.DeleteTask)
				r.Get("/{id}/transitions", pipelineHandler.ListTransitions)
			})
		})

		r.Route("/settings/{component}", func(r chi.Router) {
			r.Get("/", settingsHandler.List)
			r.Route("/{section}/{key}", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.Post("/", settingsHandler.Upsert)
				r.Put("/", settingsHandler.Upsert)
				r.Delete("/", settingsHandler.Delete)
			})
		})
	})

	return r
}

func setupCORS(r *chi.Mux, cfg *config.AppConfig) {
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		MaxAge:           cfg.CORSMaxAge,
	}).Handler)
}
