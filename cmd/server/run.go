package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"bastionwaf/api"
	"bastionwaf/config"
	"bastionwaf/events"
	"bastionwaf/inspection"
	"bastionwaf/lifecycle"
	"bastionwaf/logging"
	"bastionwaf/logstore"
	"bastionwaf/rules"
	"bastionwaf/waf"
)

var (
	configPath string
	logLevel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the inspection engine and admin API",
	RunE:  run,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the yaml config file")
	runCmd.Flags().StringVar(&logLevel, "loglevel", "", "overrides the configured log level")
}

// run is the dependency injection composition root.
func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.NewLogger(cfg.Log.Level)

	source := rules.NewFileSource(cfg.RulesFile, cfg.Sites)
	handle := rules.NewHandle()

	aggregator := events.NewAggregator(logger, events.Options{
		IdleTimeout:    cfg.Events.IdleTimeout.Value(),
		SweepInterval:  cfg.Events.SweepInterval.Value(),
		IncludeDstPort: cfg.Events.IncludeDstPort,
		MaxClosed:      cfg.Events.MaxClosed,
	})

	var (
		querier   waf.LogQuerier
		logSink   waf.LogSink
		runnables = []lifecycle.Runnable{aggregator}
	)
	switch cfg.Storage.Backend {
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.Mongo.URI))
		if err != nil {
			logger.Fatal().Err(err).Msg("Error while connecting to MongoDB")
		}
		store := logstore.NewMongoStore(client, cfg.Storage.Mongo.Database, cfg.Storage.Mongo.Collection, logger)
		querier, logSink = store, store
		runnables = append(runnables, store)
	default:
		store := logstore.NewMemoryStore(cfg.Storage.MemoryCapacity)
		querier, logSink = store, store
	}

	dispatcher := inspection.NewDispatcher(logger, cfg.Engine.LogBuffer,
		logSink, aggregator, logging.NewZerologSink(logger))
	runnables = append([]lifecycle.Runnable{dispatcher}, runnables...)

	pipeline := inspection.NewPipeline(logger, handle, dispatcher, inspection.Options{
		EvalTimeout: cfg.Engine.EvalTimeout.Value(),
		FailClosed:  cfg.Engine.FailClosed,
	})

	buildOpts := rules.BuildOptions{MaxConditionDepth: cfg.Engine.MaxConditionDepth}
	controller := lifecycle.NewController(logger, source, handle, pipeline,
		cfg.Engine.GracePeriod.Value(), buildOpts, runnables...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Error while starting engine")
	}

	apiServer := api.NewServer(logger, cfg.API.Addr, api.Deps{
		Controller: controller,
		Pipeline:   pipeline,
		Logs:       querier,
		Events:     aggregator,
		Source:     source,
		BuildOpts:  buildOpts,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Run(gctx) })

	err = g.Wait()

	if controller.State() == lifecycle.Running {
		if stopErr := controller.Stop(context.Background()); stopErr != nil {
			logger.Error().Err(stopErr).Msg("Error while stopping engine")
		}
	}
	return err
}
