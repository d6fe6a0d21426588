package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/etkecc/go-crontab"
	healthchecks "github.com/etkecc/go-healthchecks/v2"
	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/relatia/mailpipe/internal/assoc"
	"github.com/relatia/mailpipe/internal/blob"
	"github.com/relatia/mailpipe/internal/config"
	"github.com/relatia/mailpipe/internal/extract"
	"github.com/relatia/mailpipe/internal/mime"
	"github.com/relatia/mailpipe/internal/provider"
	"github.com/relatia/mailpipe/internal/storage"
	"github.com/relatia/mailpipe/internal/syncer"
	"github.com/relatia/mailpipe/internal/thread"
)

var (
	hc     *healthchecks.Client
	cron   *crontab.Crontab
	store  *storage.Store
	ingest *syncer.Syncer
	log    zerolog.Logger
)

func main() {
	quit := make(chan struct{})

	cfg := config.New()
	log = newLogger(cfg.LogLevel)

	log.Info().Msg("#############################")
	log.Info().Msg("mailpipe")
	log.Info().Int("accounts", len(cfg.Accounts)).Msg("#############################")

	initSentry(cfg)
	initHealthchecks(cfg)
	initPipeline(cfg)
	initCron(cfg)
	initShutdown(quit)
	defer recovery()

	// first pass right away, then on schedule
	go runSync()

	<-quit
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Caller().Logger().Level(lvl)
}

func initSentry(cfg *config.Config) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Monitoring.SentryDSN,
		AttachStacktrace: true,
		TracesSampleRate: float64(cfg.Monitoring.SentrySampleRate) / 100,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cannot initialize sentry")
	}
}

func initHealthchecks(cfg *config.Config) {
	if cfg.Monitoring.HealthchecksUUID == "" {
		return
	}
	hc = healthchecks.New(
		healthchecks.WithCheckUUID(cfg.Monitoring.HealthchecksUUID),
		healthchecks.WithErrLog(func(operation string, err error) {
			log.Error().Err(err).Str("operation", operation).Msg("healthchecks operation failed")
		}),
	)
	hc.Start(strings.NewReader("starting mailpipe"))
	go hc.Auto(cfg.Monitoring.HealthchecksDuration)
}

func initPipeline(cfg *config.Config) {
	var err error
	store, err = storage.New(cfg.DB.Dialect, cfg.DB.DSN, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot initialize database")
	}

	blobs, err := blob.NewFSStore(cfg.Blob.Dir, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot initialize blob storage")
	}

	fetchers := make([]provider.Fetcher, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		fetchers = append(fetchers, provider.NewIMAPFetcher(provider.IMAPConfig{
			AccountID: account.ID,
			Host:      account.Host,
			Port:      account.Port,
			Username:  account.Username,
			Password:  account.Password,
			TLS:       account.TLS,
			Folder:    account.Folder,
		}, &log))
	}

	window := time.Duration(cfg.Sync.ThreadWindowDays) * 24 * time.Hour
	ingest = syncer.New(&syncer.Config{
		Fetchers:  fetchers,
		Store:     store,
		Attach:    mime.NewAttachmentExtractor(blobs, int64(cfg.Blob.MaxSize), &log),
		Extractor: extract.New(&log),
		Threads:   thread.New(store, window, &log),
		Assoc:     assoc.New(store, store, &log),
		Workers:   cfg.Sync.Workers,
		BatchSize: cfg.Sync.BatchSize,
		Retries:   cfg.Sync.Retries,
		Log:       &log,
	})
}

func initCron(cfg *config.Config) {
	cron = crontab.New()
	if err := cron.AddJob(cfg.Sync.Schedule, runSync); err != nil {
		log.Error().Err(err).Msg("cannot schedule sync cronjob")
	}
}

func runSync() {
	ctx := context.Background()
	results := ingest.SyncAll(ctx)

	failed := 0
	for _, r := range results {
		if len(r.Errors) > 0 {
			failed++
		}
	}
	if hc != nil {
		if failed > 0 {
			hc.Fail(strings.NewReader("sync pass had failures"))
			return
		}
		hc.Success()
	}
}

func initShutdown(quit chan struct{}) {
	listener := make(chan os.Signal, 1)
	signal.Notify(listener, os.Interrupt, syscall.SIGABRT, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		<-listener
		defer close(quit)

		shutdown()
	}()
}

func shutdown() {
	log.Info().Msg("shutting down...")
	cron.Shutdown()
	if store != nil {
		store.Close() //nolint:errcheck // nothing to do about it here
	}
	if hc != nil {
		hc.Shutdown()
		hc.ExitStatus(0, strings.NewReader("shutting down mailpipe"))
	}

	sentry.Flush(5 * time.Second)
	log.Info().Msg("mailpipe has been stopped")
	os.Exit(0)
}

func recovery() {
	defer shutdown()
	err := recover()
	if err != nil {
		sentry.CurrentHub().Recover(err)
	}
}
