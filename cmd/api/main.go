package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storecraft/checkout-saga/internal/cart"
	"github.com/storecraft/checkout-saga/internal/catalog"
	"github.com/storecraft/checkout-saga/internal/checkout"
	"github.com/storecraft/checkout-saga/internal/config"
	"github.com/storecraft/checkout-saga/internal/httpx"
	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
	"github.com/storecraft/checkout-saga/internal/postgres"
	"github.com/storecraft/checkout-saga/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	prod.Start(ctx)

	carts := &cart.Store{RDB: rdb, TTL: cfg.CartTTL}
	products := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}

	svc := &checkout.Service{
		Carts:       carts,
		Catalog:     products,
		Orders:      orderRepo,
		Producer:    prod,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	(&httpx.CartHandler{Carts: carts}).Register(router)
	(&httpx.OrdersHandler{
		Checkout: svc,
		Orders:   orderRepo,
		Catalog:  products,
		Redis:    rdb,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
