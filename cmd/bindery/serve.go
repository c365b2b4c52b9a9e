package main

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/artifact"
	"github.com/jackzampolin/bindery/internal/config"
	"github.com/jackzampolin/bindery/internal/convert"
	"github.com/jackzampolin/bindery/internal/delivery"
	"github.com/jackzampolin/bindery/internal/devstack"
	"github.com/jackzampolin/bindery/internal/lock"
	"github.com/jackzampolin/bindery/internal/mailer"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/reconcile"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion and delivery workers",
	Long: `Run the bindery workers.

This starts the conversion worker pool, the delivery worker pool, and the
reconciler, and blocks until interrupted. Jobs are picked up from the Redis
work queue as they are submitted.

With --dev, the Redis and Postgres containers are started first via Docker.

Examples:
  bindery serve          # Run against configured Redis/Postgres
  bindery serve --dev    # Start local containers, then run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if serveDev {
			mgr, err := config.NewManager(cfgFile)
			if err != nil {
				return err
			}
			stack, err := devstack.New(devstack.Config{Dev: mgr.Get().Dev})
			if err != nil {
				return err
			}
			if err := stack.Start(ctx); err != nil {
				return err
			}
			defer stack.Close()
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.cfg
		logger := a.services.Logger

		storage, err := artifact.NewMinioStorage(ctx, artifact.MinioConfig{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     config.ResolveEnvVars(cfg.Storage.AccessKey),
			SecretKey:     config.ResolveEnvVars(cfg.Storage.SecretKey),
			Bucket:        cfg.Storage.Bucket,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return err
		}

		transport, err := mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: config.ResolveEnvVars(cfg.SMTP.Username),
			Password: config.ResolveEnvVars(cfg.SMTP.Password),
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return err
		}

		converter := convert.New(convert.Config{
			Store:     a.services.JobStore,
			Cache:     a.services.Cache,
			Registry:  a.registry,
			Generator: artifact.NewEpubGenerator(a.services.Home.ArtifactsPath()),
			Storage:   storage,
			Locker:    lock.New(lock.Config{Client: a.rdb, Logger: logger}),
			Logger:    logger,
		})
		deliverer := delivery.NewProcessor(delivery.ProcessorConfig{
			Store:     a.deliveryStore,
			JobStore:  a.services.JobStore,
			Transport: transport,
			Logger:    logger,
		})

		convertPool := queue.NewPool(queue.PoolConfig{
			Queue:     a.services.Queue,
			QueueName: convert.QueueName,
			Handler:   converter.Handler(),
			Workers:   cfg.Queue.Workers,
			Logger:    logger,
		})
		deliveryPool := queue.NewPool(queue.PoolConfig{
			Queue:     a.services.Queue,
			QueueName: delivery.QueueName,
			Handler:   deliverer.Handler(),
			Workers:   cfg.Queue.DeliveryWorkers,
			Logger:    logger,
		})

		reconciler := reconcile.New(reconcile.Config{
			Store:    a.services.JobStore,
			Cache:    a.services.Cache,
			Interval: cfg.Reconciler.Interval,
			Window:   cfg.Reconciler.Window,
			Logger:   logger,
		})

		// Reload worker tuning on config changes; takes effect on restart.
		a.services.Config.OnChange(func(c *config.Config) {
			logger.Info("config changed", "workers", c.Queue.Workers)
		})
		a.services.Config.WatchConfig()

		logger.Info("bindery serving",
			"convert_workers", cfg.Queue.Workers,
			"delivery_workers", cfg.Queue.DeliveryWorkers,
		)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			convertPool.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			deliveryPool.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			reconciler.Run(ctx)
		}()
		wg.Wait()

		logger.Info("bindery stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Start local Redis and Postgres containers first")
	rootCmd.AddCommand(serveCmd)
}
