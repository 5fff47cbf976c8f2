// Package main is the entry point for the videorag pipeline worker.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"videorag/internal/audio"
	"videorag/internal/config"
	"videorag/internal/database"
	"videorag/internal/encoder"
	"videorag/internal/fetcher"
	"videorag/internal/llmclient"
	"videorag/internal/models"
	"videorag/internal/notifier"
	"videorag/internal/pipeline"
	"videorag/internal/stt"
	"videorag/internal/telemetry"
	"videorag/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channels := database.NewChannelRepository(db)
	videos := database.NewVideoRepository(db)
	segments := database.NewSegmentRepository(db)
	chunks := database.NewChunkRepository(db)
	tasks := database.NewTaskStore(db)

	audioStore, err := resolveAudioStore(cfg)
	if err != nil {
		log.Fatalf("Critical error! Failed to set up audio storage: %v", err)
	}

	llm := llmclient.New(cfg.LLMServiceURL, cfg.OpenAIAPIKey, cfg.LLMModel, cfg.HTTPClientTimeout)
	enc := encoder.New(cfg.EncoderServiceURL, cfg.HTTPClientTimeout)
	sttClient := stt.New(cfg.STTServiceURL, cfg.LanguageHint, cfg.HTTPClientTimeout)
	yt := fetcher.New(cfg.YtDLPPath, cfg.FFmpegPath)

	ingest := &pipeline.IngestStage{
		Channels:             channels,
		Videos:               videos,
		Fetcher:              yt,
		Audio:                audioStore,
		TmpDir:               cfg.TmpDir,
		MetadataFetchTimeout: cfg.MetadataFetchTimeout,
		DownloadTimeout:      cfg.DownloadTimeout,
	}
	transcribe := &pipeline.TranscribeStage{Videos: videos, Segments: segments, STT: sttClient}
	chunkStage := &pipeline.ChunkStage{Chunks: chunks, LLM: llm}
	embed := &pipeline.EmbedStage{Chunks: chunks, Encoder: enc, BatchSize: cfg.BatchSize}

	n := notifier.New(cfg.DatabaseURL, cfg.NotifyPollInterval)
	defer n.Close()

	metrics, err := telemetry.New(ctx, cfg.MetricsExportInterval)
	if err != nil {
		log.Printf("[worker] telemetry disabled: failed to initialize otel metrics: %v", err)
		metrics = nil
	}
	if metrics != nil {
		defer metrics.Shutdown(context.Background())
		if err := metrics.ObserveQueueDepth(func(ctx context.Context) (int64, error) {
			stats, err := tasks.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return stats[models.TaskStatusPending], nil
		}); err != nil {
			log.Printf("[worker] failed to register queue-depth gauge: %v", err)
		}
	}

	w := &worker.Worker{
		Tasks:      tasks,
		Segments:   segments,
		Notifier:   n,
		Ingest:     ingest,
		Transcribe: transcribe,
		Chunk:      chunkStage,
		Embed:      embed,
		Encoder:    enc,
		Metrics:    metrics,
	}

	stopCron := startPeriodicReingest(cfg, tasks)
	defer stopCron()

	go startTaskJanitor(ctx, tasks, cfg.JanitorInterval, cfg.TaskRetention)

	log.Println("videorag worker starting")
	w.Run(ctx)
	log.Println("videorag worker stopped")
}

// startTaskJanitor periodically purges terminal tasks older than retention,
// grounded on the teacher's own periodic-cleanup-routine idiom.
func startTaskJanitor(ctx context.Context, tasks *database.TaskStore, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tasks.DeleteExpired(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("[worker] janitor: failed to delete expired tasks: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] janitor: deleted %d expired task(s)", n)
			}
		}
	}
}

func resolveAudioStore(cfg *config.AppConfig) (audio.Store, error) {
	if cfg.S3.Bucket != "" {
		return audio.NewS3Store(cfg.S3)
	}
	return audio.NewLocalStore(cfg.AudioDir)
}

// startPeriodicReingest optionally enqueues a pipeline task for a configured
// channel on a cron schedule, so new uploads keep flowing into the system
// without an operator re-triggering ingestion by hand. A blank PipelineCron
// disables this entirely — it is not part of the core ask_stream/pipeline
// contract, only an operational convenience.
func startPeriodicReingest(cfg *config.AppConfig, tasks *database.TaskStore) func() {
	if cfg.PipelineCron == "" || cfg.ReingestChannelURL == "" {
		return func() {}
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.PipelineCron, func() {
		body, err := json.Marshal(models.PipelineRequest{
			ChannelURL: cfg.ReingestChannelURL,
			MaxVideos:  cfg.MaxVideosDefault,
			Download:   true,
		})
		if err != nil {
			log.Printf("[worker] cron: failed to marshal periodic re-ingest request: %v", err)
			return
		}
		if _, err := tasks.Enqueue(context.Background(), models.TaskTypePipeline, body); err != nil {
			log.Printf("[worker] cron: failed to enqueue periodic re-ingest: %v", err)
		}
	})
	if err != nil {
		log.Printf("[worker] invalid PIPELINE_CRON expression %q, periodic re-ingest disabled: %v", cfg.PipelineCron, err)
		return func() {}
	}

	c.Start()
	log.Printf("[worker] periodic re-ingest scheduled: %q against %s", cfg.PipelineCron, cfg.ReingestChannelURL)
	return func() { <-c.Stop().Done() }
}
