package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstepanov-dev/storefront-core/internal/audit"
	"github.com/mstepanov-dev/storefront-core/internal/catalog"
	"github.com/mstepanov-dev/storefront-core/internal/config"
	"github.com/mstepanov-dev/storefront-core/internal/db"
	"github.com/mstepanov-dev/storefront-core/internal/events"
	"github.com/mstepanov-dev/storefront-core/internal/gateway"
	"github.com/mstepanov-dev/storefront-core/internal/handler"
	"github.com/mstepanov-dev/storefront-core/internal/metrics"
	"github.com/mstepanov-dev/storefront-core/internal/promotion"
	"github.com/mstepanov-dev/storefront-core/internal/settlement"
	"github.com/mstepanov-dev/storefront-core/internal/shipping"
	"github.com/mstepanov-dev/storefront-core/internal/stock"
	"github.com/mstepanov-dev/storefront-core/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "settlement-service").Logger()

	log.Info().Msg("Settlement service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()
	pool := database.Pool

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)
	defer producer.Close()

	svc := settlement.NewService(settlement.Deps{
		Repo:      settlement.NewPostgresRepository(pool),
		Catalog:   catalog.NewPostgresRepository(pool),
		Promos:    promotion.NewPostgresRepository(pool),
		Stock:     stock.NewPostgresLedger(pool),
		Shipping:  shipping.NewPostgresRepository(pool),
		Addresses: settlement.NewPostgresAddressReader(pool),
		Gateway:   gateway.New(cfg.Gateway.Name, cfg.Gateway.BaseURL, cfg.Gateway.Currency),
		Audit:     audit.NewBestEffort(audit.NewPostgresRecorder(pool)),
		Events:    producer,
	})

	m := metrics.New("settlement")
	h := handler.NewCheckoutHandler(svc, m)
	router := transport.NewRouter(h)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
