package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/api"
	"github.com/JakeFAU/journal-harvester/internal/clock/system"
	"github.com/JakeFAU/journal-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/journal-harvester/internal/fetcher/colly"
	md5hash "github.com/JakeFAU/journal-harvester/internal/hash/md5"
	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/id/uuid"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
	"github.com/JakeFAU/journal-harvester/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/journal-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

// services holds the collaborators shared by the commands.
type services struct {
	fetcher crawler.Fetcher
	oai     *oaipmh.Client
	sets    *harvest.SetResolver
}

func buildServices(app *App) (*services, error) {
	cfg := app.Config
	fetcher := ratelimit.NewPoliteFetcher(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.HTTP.Timeout,
			MaxBodySize:   cfg.HTTP.MaxBodyBytes,
		}),
		ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RequestsPerSecond,
			DefaultBurst: cfg.HTTP.Burst,
		}),
	)
	client, err := oaipmh.New(oaipmh.Config{
		BaseURL:        cfg.OAI.BaseURL,
		MetadataPrefix: cfg.OAI.MetadataPrefix,
		PageDelay:      cfg.OAI.PageDelay,
	}, fetcher, crawler.TimerPauser{}, app.Logger.Named("oai"))
	if err != nil {
		return nil, fmt.Errorf("init oai-pmh client: %w", err)
	}
	return &services{
		fetcher: fetcher,
		oai:     client,
		sets:    harvest.NewSetResolver(client, app.Logger.Named("sets")),
	}, nil
}

// harvestOptions are the per-invocation inputs of the harvester.
type harvestOptions struct {
	download bool
	table    harvest.URLTable
}

// buildHarvester assembles a Harvester. When opts.download is false only the
// counting collaborators are wired. The returned cleanup must always be called.
func buildHarvester(ctx context.Context, app *App, svc *services, opts harvestOptions) (*harvest.Harvester, func(), error) {
	cfg := app.Config
	logger := app.Logger
	cleanup := func() {}

	state, err := local.New(local.Config{BaseDir: cfg.Harvest.StateDir})
	if err != nil {
		return nil, cleanup, fmt.Errorf("init state dir: %w", err)
	}
	deps := harvest.Deps{
		Sets:       svc.sets,
		Enumerator: harvest.NewEnumerator(svc.oai, logger.Named("enumerate")),
		State:      state,
		Pauser:     crawler.TimerPauser{},
		Clock:      system.New(nil),
		IDs:        uuid.New(),
		BaseURL:    svc.oai.BaseURL(),
		Logger:     logger.Named("harvest"),
	}

	if opts.download {
		output, err := local.New(local.Config{BaseDir: cfg.Harvest.DownloadRoot})
		if err != nil {
			return nil, cleanup, fmt.Errorf("init download root: %w", err)
		}
		deps.Output = output
		deps.Resolver = harvest.NewResolver(svc.oai, svc.fetcher, opts.table, cfg.Harvest.AggregatorDomain, logger.Named("resolve"))
		deps.Artifacts = harvest.NewArtifactFetcher(
			svc.fetcher,
			output,
			md5hash.New(),
			crawler.NewLinearRetryPolicy(cfg.Harvest.LinkMaxAttempts, cfg.Harvest.LinkBackoff),
			crawler.TimerPauser{},
			logger.Named("artifacts"),
		)
		if cfg.PubSub.Enabled() {
			pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
			if err != nil {
				return nil, cleanup, fmt.Errorf("init pubsub: %w", err)
			}
			deps.Publisher = pub
			cleanup = func() {
				if err := pub.Close(); err != nil {
					logger.Warn("pubsub close failed", zap.Error(err))
				}
			}
		}
	}

	h, err := harvest.New(harvest.Config{
		SetPrefix:         cfg.Harvest.SetPrefix,
		ArtifactHost:      cfg.Harvest.ArtifactHost,
		ArtifactScheme:    cfg.Harvest.ArtifactScheme,
		CollectionPrefix:  cfg.Harvest.CollectionPrefix,
		Group:             cfg.Harvest.Group,
		ToolName:          cfg.Harvest.ToolName,
		Version:           app.Version,
		Workers:           cfg.Harvest.Workers,
		MaxRecordAttempts: cfg.Harvest.MaxRecordAttempts,
		RecordBackoff:     cfg.Harvest.RecordBackoff,
		Topic:             cfg.PubSub.Topic,
	}, deps)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return h, cleanup, nil
}

// startStatusServer serves the status API when an address is configured. The
// returned stop function shuts it down.
func startStatusServer(app *App, source api.ProgressSource) func() {
	addr := app.Config.Metrics.ListenAddr
	if addr == "" {
		return func() {}
	}
	logger := app.Logger.Named("api")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(source, app.Version, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}

// exportMetrics writes the metrics textfile when configured.
func exportMetrics(app *App) {
	path := app.Config.Metrics.Textfile
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		app.Logger.Error("metrics export failed", zap.Error(err))
		return
	}
	app.Logger.Info("wrote metrics textfile", zap.String("file", path))
}
