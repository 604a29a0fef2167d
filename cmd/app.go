package cmd

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veilleur-project/veilleur/internal/autopilot"
	systemclock "github.com/veilleur-project/veilleur/internal/clock/system"
	"github.com/veilleur-project/veilleur/internal/config"
	"github.com/veilleur-project/veilleur/internal/discovery"
	"github.com/veilleur-project/veilleur/internal/fetcher"
	uuidgen "github.com/veilleur-project/veilleur/internal/id/uuid"
	"github.com/veilleur-project/veilleur/internal/ingest"
	"github.com/veilleur-project/veilleur/internal/ledger"
	"github.com/veilleur-project/veilleur/internal/logging"
	"github.com/veilleur-project/veilleur/internal/metrics"
	"github.com/veilleur-project/veilleur/internal/policy"
	"github.com/veilleur-project/veilleur/internal/probe"
	"github.com/veilleur-project/veilleur/internal/report"
	"github.com/veilleur-project/veilleur/internal/scheduler"
	"github.com/veilleur-project/veilleur/internal/vectorstore"
	"github.com/veilleur-project/veilleur/internal/watcher"
)

// app holds the fully wired service graph shared by the subcommands.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      watcher.Clock
	loader     *policy.Loader
	manager    *policy.Manager
	ledger     *ledger.Ledger
	store      *vectorstore.Store
	pipeline   *ingest.Pipeline
	fetcher    *fetcher.Fetcher
	scheduler  *scheduler.Scheduler
	controller *autopilot.Controller
	reporter   *report.Reporter
}

// buildApp is a variable so tests can substitute a mock factory.
var buildApp = newApp

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	clk := systemclock.Clock{}
	loader := policy.NewLoader(cfg.PolicyPath())

	if err := ledger.Init(cfg.LedgerPath()); err != nil {
		return nil, fmt.Errorf("initialize consent ledger: %w", err)
	}
	led, err := ledger.Open(cfg.LedgerPath(), clk.Now)
	if err != nil {
		return nil, err
	}
	manager := policy.NewManager(loader, led, clk.Now)

	store, err := vectorstore.Open(cfg.StorePath(), clk)
	if err != nil {
		return nil, err
	}
	pipeline, err := ingest.NewPipeline(store, cfg.Ingest.ChunkSize, cfg.Ingest.MinSources, cfg.Ingest.AllowedLicences, logger)
	if err != nil {
		return nil, err
	}

	throttle := time.Duration(cfg.Fetcher.ThrottleSeconds * float64(time.Second))
	pageFetcher := fetcher.New(fetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		Throttle:  throttle,
	}, fetcher.NewMarkdownExtractor(), logger)

	var resourceProbe watcher.ResourceProbe
	if p, err := probe.New(); err == nil {
		resourceProbe = p
	} else {
		logger.Warn("procfs unavailable, resource budgets report zero", zap.Error(err))
		resourceProbe = probe.Static{}
	}

	sched, err := scheduler.New(loader, cfg.StatePath(), resourceProbe, clk, nil, logger)
	if err != nil {
		return nil, err
	}
	reporter := report.New(cfg.ReportPath())

	controller := autopilot.New(autopilot.Options{
		Scheduler: sched,
		Pipeline:  pipeline,
		Crawler:   discovery.NewCrawler(pageFetcher, logger),
		Fetcher:   pageFetcher,
		Loader:    loader,
		Ledger:    led,
		Reporter:  reporter,
		Clock:     clk,
		IDs:       uuidgen.NewGenerator(),
		Throttle:  throttle,
		Logger:    logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		loader:     loader,
		manager:    manager,
		ledger:     led,
		store:      store,
		pipeline:   pipeline,
		fetcher:    pageFetcher,
		scheduler:  sched,
		controller: controller,
		reporter:   reporter,
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Sync()
}
