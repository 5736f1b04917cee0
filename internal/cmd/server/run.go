package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/canvasshq/canvass/internal/auditlog"
	cfgpkg "github.com/canvasshq/canvass/internal/config"
	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	httpserver "github.com/canvasshq/canvass/internal/server/http"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the HTTP API server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{DataDir: storeDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval, Config: opts.Config})
	if err != nil {
		return err
	}
	defer rt.Close()

	logCfg := &logpkg.Config{
		Level:  getenvDefault("CANVASS_LOG_LEVEL", "info"),
		Format: getenvDefault("CANVASS_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	logpkg.RedirectStdLog(procLogger)

	cfg := rt.Config()
	procLogger.Info("Starting canvass server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Int("lease_minutes", cfg.ReviewLeaseMinutes),
		logpkg.Int("skip_window", cfg.SkipWindow),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	audit := auditlog.New(rt.DB())
	queue := reviewqueue.New(rt.DB(), procLogger, reviewqueue.Options{
		LeaseTTL:   time.Duration(cfg.ReviewLeaseMinutes) * time.Minute,
		SkipWindow: cfg.SkipWindow,
	}).WithAudit(audit)
	signer := media.NewSigner(cfg.MediaSigningKey, time.Duration(cfg.MediaURLTTLMinutes)*time.Minute)
	surveys := surveysvc.New(rt, procLogger, time.Duration(cfg.ScopeCacheTTLSeconds)*time.Second)
	queue.WithInvalidator(surveys.InvalidateScope)

	hsrv := httpserver.New(rt, httpserver.Services{
		Queue:     queue,
		Responses: responsesvc.New(rt, queue, signer, procLogger).WithAudit(audit),
		Surveys:   surveys,
		Auth:      authsvc.New(rt, procLogger, cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute),
		Signer:    signer,
		Audit:     audit,
	})

	go sweep(sctx, rt, queue, audit, procLogger, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- hsrv.ListenAndServe(sctx, opts.HTTPAddr) }()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		if err != nil && sctx.Err() == nil {
			hsrv.Close()
			return err
		}
	}
	hsrv.Close()
	return nil
}

// sweep periodically reclaims expired review leases and trims audit entries
// past retention. A lazy reclaim also happens on every GetNext; the sweeper
// keeps the expiry index bounded on idle deployments.
func sweep(ctx context.Context, rt *runtime.Runtime, queue *reviewqueue.Queue, audit *auditlog.Log, logger logpkg.Logger, cfg cfgpkg.Config) {
	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if n, err := queue.ReclaimExpired(ctx, 0, 256); err != nil {
			logger.Warn("lease reclaim failed", logpkg.Err(err))
		} else if n > 0 {
			logger.Info("reclaimed expired leases", logpkg.Int("count", n))
		}
		if cfg.AuditRetentionDays <= 0 {
			continue
		}
		cutoff := time.Now().AddDate(0, 0, -cfg.AuditRetentionDays).UnixMilli()
		surveys, err := store.ListSurveys(rt.DB())
		if err != nil {
			continue
		}
		for _, svy := range surveys {
			if _, err := audit.TrimOlderThan(ctx, svy.SurveyID, cutoff, 1024); err != nil {
				logger.Warn("audit trim failed", logpkg.Str("survey", svy.SurveyID), logpkg.Err(err))
			}
		}
	}
}
