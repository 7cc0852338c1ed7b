package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-pickup-orders/internal/cart"
	"github.com/ariefcatur/go-pickup-orders/internal/config"
	"github.com/ariefcatur/go-pickup-orders/internal/customer"
	"github.com/ariefcatur/go-pickup-orders/internal/httpx"
	"github.com/ariefcatur/go-pickup-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-pickup-orders/internal/kafka"
	"github.com/ariefcatur/go-pickup-orders/internal/memstore"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/pickup"
	"github.com/ariefcatur/go-pickup-orders/internal/postgres"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
	"github.com/ariefcatur/go-pickup-orders/internal/reservation"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "pickup-api",
		Usage:  "storefront with pickup reservations",
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP API", Action: serve},
			{Name: "migrate", Usage: "apply database migrations", Action: migrate},
			{
				Name:  "slots",
				Usage: "generate pickup slots for the horizon",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "horizon in days (default PICKUP_HORIZON_DAYS)"},
				},
				Action: slots,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("pickup-api")
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}
	cfg.Logger().Info("migrations applied")
	return nil
}

func slots(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	if cfg.Store == config.StoreMemory {
		return errors.New("slots: memory store keeps nothing between runs, use serve")
	}
	hours, err := cfg.Hours()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	days := cfg.PickupHorizonDays
	if c.IsSet("days") {
		days = c.Int("days")
	}
	n, err := pickup.NewScheduler(store, hours, log).EnsureSlotsGenerated(c.Context, days)
	if err != nil {
		return err
	}
	log.WithField("created", n).Info("slot generation done")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (orders.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return memstore.New(memstore.WithLockTimeout(cfg.LockTimeout)), func() {}, nil
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(db, cfg.LockTimeout), db.Close, nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	hours, err := cfg.Hours()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis (optional)
	var rdb *redis.Client
	var carts cart.Sessions = cart.NewMemorySessions()
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.WithError(err).Warn("redis unreachable, running without cache and with in-process carts")
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			carts = cart.NewRedisSessions(rdb)
		}
	}

	ledger := inventory.NewLedger(store, log)
	scheduler := pickup.NewScheduler(store, hours, log)
	opts := []reservation.Option{
		reservation.WithLogger(log),
		reservation.WithProducer(cfg.ServiceName),
		reservation.WithRetry(reservation.RetryPolicy{Attempts: cfg.ConflictRetries, Backoff: cfg.ConflictBackoff}),
	}

	// Kafka producer (optional)
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		opts = append(opts, reservation.WithEvents(prod))
	}
	engine := reservation.NewEngine(store, ledger, scheduler, opts...)

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Engine:      engine,
		Ledger:      ledger,
		Scheduler:   scheduler,
		Customers:   customer.NewDirectory(store),
		Carts:       carts,
		Redis:       rdb,
		HorizonDays: cfg.PickupHorizonDays,
		Log:         log,
	}
	h.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return generateSlots(gctx, scheduler, cfg.PickupHorizonDays, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	if prod != nil {
		prod.Close() // tutup inbox -> flush & close writer
		prod.WaitClosed()
	}
	return err
}

// generateSlots keeps the horizon filled: once at startup, then hourly.
func generateSlots(ctx context.Context, s *pickup.Scheduler, days int, log logrus.FieldLogger) error {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		if _, err := s.EnsureSlotsGenerated(ctx, days); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("generate pickup slots")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
