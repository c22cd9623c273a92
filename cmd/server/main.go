package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registration-service/config"
	"registration-service/internal/api"
	"registration-service/internal/broker"
	"registration-service/internal/hook"
	"registration-service/internal/payment"
	"registration-service/internal/redisclient"
	"registration-service/internal/service"
	"registration-service/internal/store"
	"registration-service/internal/util"
	"registration-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting registration service")

	tp, err := util.InitTracer("registration-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	events, err := config.LoadEvents(cfg.Events.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load event config: %v", err)
	}

	hooks, err := hook.LoadConfig(cfg.Hooks.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load hook config: %v", err)
	}

	invoker := hook.NewInvoker(producer)
	scheduler := hook.NewScheduler(hooks, invoker, func(ctx context.Context) (hook.LogTx, error) {
		return db.Begin(ctx)
	})
	dispatcher := hook.NewDispatcher(hooks, invoker, scheduler)

	providers := payment.NewRegistry()
	providers.Register(payment.NewMockProvider())

	begin := func(ctx context.Context) (service.Tx, error) {
		return db.Begin(ctx)
	}
	cartService := service.NewCartService(db, redisClient)
	registrationService := service.NewRegistrationService(dispatcher)
	pricer := service.NewPricer(events, hooks, invoker)
	checkoutService := service.NewCheckoutService(begin, cartService, pricer, registrationService, providers, dispatcher)

	retryWorker := worker.NewRetryWorker(db, scheduler, cfg.Hooks.SweepInterval, cfg.Hooks.SweepLimit)
	retryWorker.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(events, cartService, checkoutService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	retryWorker.Stop()
	scheduler.Close()

	log.Println("Server exited")
}
