package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/campuskit/centpay/internal/app"
	"github.com/campuskit/centpay/internal/seeder"
	"github.com/campuskit/centpay/internal/version"
	"github.com/campuskit/centpay/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	err := run(logger)
	if err != nil {
		trace := string(debug.Stack())
		logger.Error(err.Error(), "trace", trace)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	showVersion := flag.Bool("version", false, "display version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s\n", version.Get())
		return nil
	}

	application, err := app.NewApplication(logger)
	if err != nil {
		return err
	}
	defer application.DB.Close()
	defer application.Cache.Close()

	if application.Config.Seed {
		seeders.New(application.DB).Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alertWorker := worker.New(&worker.Worker{
		KafkaStream: application.Kafka,
		ErrHandler:  application.ErrorHandler(),
		Logger:      logger,
		Ctx:         ctx,
	})
	go alertWorker.AlertWorker()

	go application.Sessions.RunSweeper(ctx, application.Config.Payment.SessionTTL)
	go application.Reconciler.Run(ctx)

	return application.ServeHTTP()
}
