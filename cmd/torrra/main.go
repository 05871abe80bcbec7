package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"torrra/internal/config"
	"torrra/internal/engine/anacrolix"
	apphttp "torrra/internal/http"
	"torrra/internal/reconcile"
	"torrra/internal/repository"
	"torrra/internal/repository/sqlite"
	"torrra/internal/service"
	"torrra/internal/storage"
	"torrra/internal/torrents"
	"torrra/internal/transcode"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Fatalf("auth registration password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	torrentRepo := sqlite.NewTorrentRepository(db)
	jobRepo := sqlite.NewTranscodeJobRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	if err := torrentRepo.Init(ctx); err != nil {
		logger.Fatalf("init torrent repository: %v", err)
	}
	if err := jobRepo.Init(ctx); err != nil {
		logger.Fatalf("init transcode job repository: %v", err)
	}
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	torrentService := service.NewTorrentService(torrentRepo)
	userService := service.NewUserService(userRepo, cfg.Auth.RegisterPassword)

	session, err := anacrolix.NewSession(anacrolix.Config{
		ListenAddr: cfg.Download.ListenAddr,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("start torrent session: %v", err)
	}

	if err := os.MkdirAll(cfg.Download.Path, 0o755); err != nil {
		logger.Fatalf("create download dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Download.ResumeDir, 0o755); err != nil {
		logger.Fatalf("create resume dir: %v", err)
	}

	manager := torrents.NewManager(torrents.Config{
		SavePath:       cfg.Download.Path,
		DisableSeeding: cfg.Download.DisableSeeding,
		Logger:         logger,
	}, session, torrents.NewResumeStore(cfg.Download.ResumeDir), torrentService)

	attachPersisted(ctx, logger, torrentService, manager)

	var storageSvc storage.Service
	if cfg.Storage.Bucket != "" {
		storageSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	}

	matcher := transcode.NewMatcher(cfg.Transcoding.Rules, cfg.Transcoding.DestinationPath)
	scheduler, err := buildScheduler(ctx, cfg, logger, jobRepo, matcher, storageSvc)
	if err != nil {
		logger.Fatalf("setup transcoding: %v", err)
	}

	reconciler := reconcile.New(reconcile.Config{
		Transcoding: cfg.Transcoding.Enabled,
		Logger:      logger,
	}, manager, torrentService, scheduler)
	go reconciler.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		torrentService,
		userService,
		manager,
		scheduler,
		matcher,
		storageSvc,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	manager.FlushResumeData(flushCtx)
	cancelFlush()

	scheduler.Shutdown()
	session.Close()

	logger.Info("bye")
}

func attachPersisted(ctx context.Context, logger *logrus.Logger, svc service.TorrentService, manager *torrents.Manager) {
	records, err := svc.ListTorrents(ctx)
	if err != nil {
		logger.Warnf("list persisted torrents: %v", err)
		return
	}
	for _, record := range records {
		if err := manager.Add(record.MagnetURI, record.IsPaused); err != nil {
			logger.WithField("magnet_uri", record.MagnetURI).Warnf("reattach torrent: %v", err)
		}
	}
	logger.Infof("reattached %d torrents", len(records))
}

func buildScheduler(ctx context.Context, cfg config.Config, logger *logrus.Logger, jobs repository.TranscodeJobRepository, matcher *transcode.Matcher, storageSvc storage.Service) (*transcode.Scheduler, error) {
	if cfg.Transcoding.Enabled {
		if err := transcode.CheckFFmpeg(ctx, cfg.Transcoding.FFmpegPath); err != nil {
			return nil, fmt.Errorf("ffmpeg not available at %q: %w", cfg.Transcoding.FFmpegPath, err)
		}
	}

	var archiver transcode.Archiver
	if storageSvc != nil {
		archiver = storageSvc
	}

	notifier := transcode.NewNotifier()
	notifier.SetSink(func(event transcode.NotifyEvent, filename string) {
		logger.WithField("file", filename).Infof("transcode %s", event)
	})

	scheduler := transcode.NewScheduler(transcode.Config{
		FFmpegPath:  cfg.Transcoding.FFmpegPath,
		MaxParallel: cfg.Transcoding.MaxParallelJobs,
		Logger:      logger,
	}, jobs, matcher, notifier, archiver)

	if err := scheduler.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	return scheduler, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix), nil
}
