// Package bootstrap provides dependency initialization for the audio split API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/config"
	"github.com/maauso/audiosplit-api/internal/fetch"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/reaper"
	"github.com/maauso/audiosplit-api/internal/session"
	"github.com/maauso/audiosplit-api/internal/split"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	SplitService     *split.Service
	RetrievalService *split.RetrievalService
	Store            session.Store
	Reaper           *reaper.Reaper
	Metrics          *metrics.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	st, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	profile := audio.Profile{
		Format:   cfg.OutputFormat,
		Bitrate:  cfg.OutputBitrate,
		Channels: cfg.OutputChannels,
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("output profile: %w", err)
	}

	codec := audio.NewFFmpegCodec(cfg.FFmpegPath, cfg.FFprobePath)
	source := fetch.NewHTTPSource(
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithMaxBytes(cfg.FetchMaxBytes),
		fetch.WithMaxRetries(cfg.FetchMaxRetries),
	)

	// Sessions live in memory only
	store := session.NewMemoryStore()

	splitSvc := split.NewService(source, codec, store, st, logger,
		split.WithDefaultChunkMinutes(cfg.DefaultChunkMinutes),
		split.WithOverlap(cfg.ChunkOverlapSec),
		split.WithMaxConcurrentRenders(cfg.MaxConcurrentRenders),
		split.WithProfile(profile),
		split.WithMetrics(m),
	)

	retrievalSvc := split.NewRetrievalService(store, logger,
		split.WithRetrievalProfile(profile),
		split.WithRetention(cfg.RetentionWindow),
		split.WithRetrievalMetrics(m),
	)

	r := reaper.New(store, logger,
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithRetention(cfg.RetentionWindow),
		reaper.WithMetrics(m),
	)

	return &Dependencies{
		SplitService:     splitSvc,
		RetrievalService: retrievalSvc,
		Store:            store,
		Reaper:           r,
		Metrics:          m,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
