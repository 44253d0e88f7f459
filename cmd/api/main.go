package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/broker"
	"slotmarket.org/internal/catalog"
	"slotmarket.org/internal/httpapi"
	"slotmarket.org/internal/ids"
	"slotmarket.org/internal/obs"
	"slotmarket.org/internal/store/pg"
	"slotmarket.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SLOTMARKET_COMMIT"))

	groupID := os.Getenv("SLOTMARKET_GROUP_ID")
	if groupID == "" {
		groupID = "unknown-group"
	}
	// Origin distinguishes this process from other federation instances,
	// including other instances run by the same group.
	origin := groupID + "/" + ids.New()

	var (
		ledger auction.Service
		offers httpapi.OffersIndex
		db     *sql.DB
	)
	if dsn := os.Getenv("SLOTMARKET_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open pg store: %v", err)
		}
		defer store.Close()
		ledger = store
		offers = store.Offers()
		db = store.DB()
	} else {
		ledger = auction.NewInMemory()
		offers = auction.NewIndex()
	}

	st := stream.New()
	cat := catalog.New(catalog.DemoProperties())

	var pub broker.Publisher = broker.Log{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := os.Getenv("SLOTMARKET_REDIS_ADDR"); addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: addr})
		defer rc.Close()
		channel := os.Getenv("SLOTMARKET_BROKER_CHANNEL")
		pub = broker.NewRedis(rc, channel, origin)
		consumer := broker.NewConsumer(rc, channel, origin, ledger, offers, st)
		go consumer.Run(ctx)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, ledger, offers, cat, st, pub)

	addr := os.Getenv("SLOTMARKET_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	// No WriteTimeout: the SSE feed holds its connection open.
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting slotmarket-api %s on %s (group %s)", version, srv.Addr, groupID)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	cancel()
	log.Println("Stopped")
}
