package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/storecraft/checkout-saga/internal/cart"
	"github.com/storecraft/checkout-saga/internal/config"
	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
	"github.com/storecraft/checkout-saga/internal/postgres"
	"github.com/storecraft/checkout-saga/internal/redisx"
	"github.com/storecraft/checkout-saga/internal/saga"
	"github.com/storecraft/checkout-saga/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prodConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmed, 1024)
	prodConfirmed.Start(ctx)

	sagaSvc := &saga.Service{
		Stock:       &stock.Repo{DB: db},
		Orders:      &orders.Repo{DB: db},
		Redis:       rdb,
		Producer:    prodConfirmed,
		ServiceName: cfg.ServiceName + "-saga",
	}
	releaser := &cart.Releaser{
		Carts: &cart.Store{RDB: rdb, TTL: cfg.CartTTL},
	}

	sagaCons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-stock", orders.TopicOrderCreated, cfg.SagaWorkers)
	releaseCons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-cart", orders.TopicOrderConfirmed, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("stock saga consumer started: group=%s-stock topic=%s workers=%d",
			cfg.ConsumerGroup, orders.TopicOrderCreated, cfg.SagaWorkers)
		return sagaCons.Start(gctx, sagaSvc.HandleOrderCreated)
	})
	g.Go(func() error {
		log.Printf("cart release consumer started: group=%s-cart topic=%s",
			cfg.ConsumerGroup, orders.TopicOrderConfirmed)
		return releaseCons.Start(gctx, releaser.HandleOrderConfirmed)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down consumers...")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil {
		log.Printf("consumer exit: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	prodConfirmed.Close()
	prodConfirmed.WaitClosed()
}
