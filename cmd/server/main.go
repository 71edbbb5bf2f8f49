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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/notify"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "checkout-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
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

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.NewStore(connectCtx, cfg.Database.URL)
	connectCancel()
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing on the database guards alone", zap.Error(err))
	} else {
		logger.Info("Redis connected")
	}
	defer redisClient.Close()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	processor := payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:      cfg.Payment.SecretKey,
		PublishableKey: cfg.Payment.PublishableKey,
		WebhookSecret:  cfg.Payment.WebhookSecret,
		ReturnURL:      cfg.Server.SiteURL + cfg.Business.ReturnPathTemplate,
		Timeout:        cfg.Payment.Timeout,
	})

	checkoutService := service.NewCheckoutService(db, db, processor, redisClient, eventPublisher, service.CheckoutConfig{
		Currency:       cfg.Payment.Currency,
		DBTimeout:      cfg.Database.Timeout,
		PaymentTimeout: cfg.Payment.Timeout,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	finalizer := service.NewOrderFinalizer(db, cfg.Database.Timeout)
	listener := service.NewPaymentListener(processor, db, finalizer, redisClient, eventPublisher, service.ListenerConfig{
		DBTimeout:         cfg.Database.Timeout,
		PaymentTimeout:    cfg.Payment.Timeout,
		LockTTL:           cfg.Business.FinalizationLockTTL,
		ProcessedEventTTL: cfg.Business.ProcessedEventTTL,
		TicketURL:         cfg.TicketURL,
	})
	orderQueries := service.NewOrderQueryService(db, db, cfg.Database.Timeout)

	var sender notify.EmailSender
	if cfg.Email.APIKey != "" {
		sender = notify.NewResendSender(cfg.Email.APIKey, cfg.Email.From, cfg.Email.Timeout)
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Email.Timeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, db, dispatcher)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(checkoutService, listener, orderQueries, api.HandlerConfig{
		SiteURL:             cfg.Server.SiteURL,
		MaxWebhookBodyBytes: cfg.Business.MaxWebhookBodyBytes,
		ReadinessChecks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
