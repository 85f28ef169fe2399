package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/config"
	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/migrate"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/registry"
	"github.com/justiceops/recordsync/internal/server"
	"github.com/justiceops/recordsync/internal/syncer"
	"github.com/justiceops/recordsync/internal/telemetry"
)

var serveLocal bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue consumers and the operator API",
	Long: `Serve runs the whole engine: queue consumers for every configured
record type, the synchronisation reconciler, and the operator API.

With --local the engine runs on an in-memory queue and ledger instead of
SQS and SurrealDB, for development against stub services.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveLocal, "local", false, "in-memory queue and ledger instead of SQS and SurrealDB")
}

func runServe(parent context.Context) error {
	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalogue, err := registry.Load(cfg.RecordTypesFile)
	if err != nil {
		return err
	}

	// Queue
	var q queue.Queue
	if serveLocal {
		q = queue.NewMemQueue()
	} else {
		q, err = queue.NewSQSQueue(ctx, queue.SQSConfig{
			Region:   cfg.AWSRegion,
			Endpoint: cfg.SQSEndpoint,
			QueueURL: cfg.QueueURL,
			DLQURL:   cfg.DLQURL,
		})
		if err != nil {
			return fmt.Errorf("connect queue: %w", err)
		}
	}

	// Ledger
	var ledger history.Ledger
	if serveLocal {
		ledger = history.NewMemLedger()
	} else {
		surreal, err := history.NewSurrealLedger(ctx, history.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect ledger: %w", err)
		}
		defer surreal.Close(context.Background())
		ledger = surreal
	}

	// Telemetry
	collector := telemetry.NewCollector()
	recorder := telemetry.NewRecorder()
	tracker := telemetry.MultiTracker{
		telemetry.NewLogTracker(logger),
		collector,
		recorder,
	}

	store := mapping.NewHTTPStore(cfg.MappingBaseURL)
	engine := migrate.NewEngine(logger)
	syncRouter := syncer.NewRouter(logger)
	consumer := queue.NewConsumer(q, cfg.Workers, logger)

	for _, rt := range catalogue.RecordTypes {
		sourceURL := rt.Source.BaseURL
		if sourceURL == "" {
			sourceURL = cfg.SourceBaseURL
		}
		targetURL := rt.Target.BaseURL
		if targetURL == "" {
			targetURL = cfg.TargetBaseURL
		}
		source := gateway.NewHTTPSource(sourceURL, rt.Endpoints())
		target := gateway.NewHTTPTarget(targetURL, rt.Endpoints())
		transform := gateway.IdentityTransformer()

		migrator := migrate.NewMigrator(rt.Name, source, target, transform,
			store, q, tracker, logger)

		pageSize := rt.PageSize
		if pageSize == 0 {
			pageSize = cfg.PageSize
		}
		coordinator := migrate.NewCoordinator(rt.Name, migrator, source, store,
			ledger, q, tracker, logger, migrate.Tuning{
				PageSize:    pageSize,
				CheckDelay:  cfg.StatusCheckDelay,
				QuietDelay:  cfg.StatusCheckQuiet,
				QuietRounds: cfg.StatusCheckRounds,
			})
		engine.Register(rt.Name, coordinator)

		reconciler := syncer.NewReconciler(rt.Name, cfg.AuditOrigin, source,
			target, transform, store, migrator, tracker, logger)
		syncRouter.Register(rt.Name, reconciler)
	}
	engine.Bind(consumer)
	syncRouter.Bind(consumer)

	api := server.New(engine, ledger, collector, recorder, cfg.JWTSecret, Version, logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- consumer.Run(ctx)
	}()
	go func() {
		errCh <- api.Run(ctx, cfg.ServerPort)
	}()

	logger.Info("engine running",
		"record_types", catalogue.Names(),
		"workers", cfg.Workers,
		"local", serveLocal)

	// First failure wins; ctx cancellation drains both.
	err = <-errCh
	stop()
	<-errCh
	return err
}
