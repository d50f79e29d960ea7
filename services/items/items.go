// Command items serves a generic item REST service for the domain model
// named by DOMAIN_MODEL. See package config for all configuration keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/apispec"
	"github.com/relabs-tech/itemsvc/core/backend"
	"github.com/relabs-tech/itemsvc/core/config"
	"github.com/relabs-tech/itemsvc/core/csql"
	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/metrics"
	"github.com/relabs-tech/itemsvc/core/model"
	"github.com/relabs-tech/itemsvc/core/notifier"
	"github.com/relabs-tech/itemsvc/core/server"
	"github.com/relabs-tech/itemsvc/core/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error.", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.LevelFor(cfg.Debug))
	rlog := logger.Default()
	rlog.Infof("starting item service in %s mode, version %s", cfg.Mode, backend.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg); err != nil {
		if errors.Is(err, model.ErrNoDomainModel) {
			fmt.Println("Error. No domain model is configured.")
			os.Exit(1)
		}
		rlog.WithError(err).Errorln("item service failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// checked before touching the database
	if cfg.DomainModel == "" {
		return model.ErrNoDomainModel
	}

	db, err := csql.OpenURI(cfg.DatabaseDriver, cfg.DatabaseURI, cfg.DatabaseSchema)
	if err != nil {
		return err
	}
	defer db.Close()

	reader := source.Reader{Region: cfg.AWSRegion}
	m, err := model.Loader{Reader: reader}.Create(ctx, db, cfg.DomainModel)
	if err != nil {
		return err
	}

	base, err := apispec.LoadBase(ctx, reader, cfg.APIConfig)
	if err != nil {
		return err
	}
	description, err := apispec.Generate(base, m)
	if err != nil {
		return err
	}

	var changes core.Notifier
	if cfg.KafkaBrokers != "" {
		kafka, err := notifier.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		changes = kafka
	}

	router := mux.NewRouter()
	err = apispec.WithTempFile(description, func(path string) error {
		_, err := backend.New(&backend.Builder{
			Description: path,
			Model:       m,
			DB:          db,
			Router:      router,
			Notifier:    changes,
			Metrics:     metrics.New(),
		})
		return err
	})
	if err != nil {
		return err
	}

	return server.Run(ctx, cfg.Server, cfg.ServerPort, router)
}
