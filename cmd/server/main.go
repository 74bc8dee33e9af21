package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbook/matching-engine/internal/api"
	"github.com/openbook/matching-engine/internal/auth"
	"github.com/openbook/matching-engine/internal/cdc"
	"github.com/openbook/matching-engine/internal/config"
	"github.com/openbook/matching-engine/internal/db"
	"github.com/openbook/matching-engine/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}

// Main entry point: database, matching engine, workers, CDC consumer, HTTP server.
func main() {
	cfg := config.Load()
	log := newLogger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Matching engine: validator, executor, per-instrument books.
	validator := engine.NewValidator(database)
	executor := engine.NewTradeExecutor(database, database, database, validator, log)
	svc := engine.NewService(database, database, executor, log)
	if err := svc.Start(ctx); err != nil {
		log.Fatal("failed to rebuild order books", zap.Error(err))
	}

	queue := engine.NewDirtyQueue()
	worker := engine.NewMatchingWorker(svc, queue, cfg.MatchWorkers, log)
	worker.Start(ctx)

	// With Kafka configured, order inserts reach the engine through CDC;
	// otherwise the API submits them directly after persisting.
	var matcher api.Matcher
	var consumer *cdc.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = cdc.NewConsumer(cdc.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Backoff: cfg.ConsumeBackoff,
		}, worker.Submit, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("cdc consumer stopped", zap.Error(err))
			}
		}()
	} else {
		matcher = worker
		log.Info("kafka disabled, orders submitted synchronously")
	}

	authService := auth.NewAuthService(database, cfg.JWTSecret)
	handler := api.NewHandler(database, svc, matcher, authService, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/orderbook", handler.GetOrderBook)
		r.Get("/trades", handler.GetUserTrades)
		r.Get("/portfolio", handler.GetPortfolio)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Error("consumer close", zap.Error(err))
		}
	}
	worker.Wait()
	log.Info("stopped")
}
