package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"streamsub/internal/config"
	"streamsub/internal/deepl"
	"streamsub/internal/persistence"
	"streamsub/internal/pipeline"
	"streamsub/internal/port"
	"streamsub/internal/retry"
	"streamsub/internal/sweeper"
	"streamsub/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	level := log.ParseLevel(cfg.System.LogLevel)
	log.InitLogger(level)
	if cfg.System.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.System.LogFile, level)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		log.Fatal("Failed to open translation cache: %v", err)
	}
	defer store.Close()

	// Eviction runs once per session, before the pipeline takes traffic.
	evicted, err := sweeper.New(store, cfg.Cache.RetentionDays).Sweep(ctx)
	if err != nil {
		log.Error("Startup sweep failed: %v", err)
	} else {
		log.Info("Startup sweep evicted %d stale work items", evicted)
	}

	client, err := deepl.NewClient(deepl.Config{
		APIKey:  cfg.DeepL.APIKey,
		Pro:     cfg.DeepL.Pro,
		Timeout: time.Duration(cfg.DeepL.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("Failed to create translation client: %v", err)
	}

	controller := retry.NewController(client, cfg.Translate.MaxRetries, 0)
	pipe := pipeline.New(pipeline.Config{
		SourceLang: config.SourceLang,
		TargetLang: cfg.Translate.TargetLang,
		BatchMax:   cfg.Translate.BatchMax,
	}, controller, store)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.System.UsageCron, func() { reportUsage(client) }); err != nil {
		log.Fatal("Invalid USAGE_CRON expression %q: %v", cfg.System.UsageCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	reportUsage(client)

	log.Info("streamsub ready: target %s, batch max %d", cfg.Translate.TargetLang, cfg.Translate.BatchMax)
	port.NewServer(pipe, client).Serve(ctx)

	// Serve returns only after in-flight drains finish; let their
	// dispatched cache writes land before the store closes.
	pipe.Wait()
}

func reportUsage(client *deepl.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	usage, err := client.Usage(ctx)
	if err != nil {
		log.Error("Usage check failed: %v", err)
		return
	}
	if usage.CharacterLimit <= 0 {
		log.Info("DeepL usage: %d characters", usage.CharacterCount)
		return
	}
	pct := float64(usage.CharacterCount) / float64(usage.CharacterLimit) * 100
	log.Info("DeepL usage: %d/%d characters (%.1f%%)", usage.CharacterCount, usage.CharacterLimit, pct)
	if pct >= 90 {
		log.Warn("Translation quota nearly exhausted: %.1f%% used", pct)
	}
}
