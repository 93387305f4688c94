package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pharmatrack/m/internal/api"
	"pharmatrack/m/internal/config"
	"pharmatrack/m/internal/database"
	"pharmatrack/m/internal/idempotency"
	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/migrations"
	"pharmatrack/m/internal/order"
	"pharmatrack/m/internal/payment"
	"pharmatrack/m/internal/prescription"
	"pharmatrack/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.Load()
	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open database")
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		log.Fatal().Err(err).Msg("unable to run migrations")
	}
	seed.LoadMedicines(db, cfg.MedicineCSV, log)

	var guard idempotency.Guard = idempotency.NewMemory()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("unable to reach redis")
		}
		guard = idempotency.NewRedis(client)
		defer client.Close()
	}

	stock := ledger.New(db, log)
	rx := prescription.New(db, stock, log)
	orders := order.New(db, stock, payment.Sandbox{}, guard, log)
	handler := api.New(db, cfg.Secret, rx, orders, log)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler.Router(),
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("pharmatrack server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
