package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/config"
	"github.com/ariefcatur/go-pickup-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-pickup-orders/internal/kafka"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/postgres"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("inventory watcher")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	if cfg.Store != config.StorePostgres {
		return errors.New("the watcher reads the shared ledger and needs STORE=postgres")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db, cfg.LockTimeout)

	// Redis (dedup, optional)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 256, log)
	prod.Start(ctx)

	w := &inventory.Watcher{
		Ledger:      inventory.NewLedger(store, log),
		Redis:       rdb,
		Events:      prod,
		ServiceName: cfg.ServiceName + "-inventory",
		Log:         log.WithField("component", "low-stock-watcher"),
	}

	topics := []string{orders.TopicOrderPlaced, orders.TopicOrderFulfilled}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, topics, cfg.InventoryWorkers, log)
	log.WithFields(logrus.Fields{
		"group": cfg.InventoryGroup, "topics": topics, "workers": cfg.InventoryWorkers,
	}).Info("inventory consumer started")

	err = cons.Start(ctx, w.HandleOrderEvent)
	log.Info("shutting down consumer...")
	prod.Close()
	prod.WaitClosed()
	return err
}
