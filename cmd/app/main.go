package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/HyperCyx/otpbot/config"
	httpDelivery "github.com/HyperCyx/otpbot/internal/delivery/http"
	tgDelivery "github.com/HyperCyx/otpbot/internal/delivery/telegram"
	"github.com/HyperCyx/otpbot/internal/domain"
	kafkaInfra "github.com/HyperCyx/otpbot/internal/infrastructure/kafka"
	"github.com/HyperCyx/otpbot/internal/infrastructure/logger"
	mongoInfra "github.com/HyperCyx/otpbot/internal/infrastructure/mongo"
	"github.com/HyperCyx/otpbot/internal/infrastructure/proxy"
	"github.com/HyperCyx/otpbot/internal/infrastructure/sessionstore"
	tgInfra "github.com/HyperCyx/otpbot/internal/infrastructure/telegram"
	mongoRepo "github.com/HyperCyx/otpbot/internal/repository/mongo"
	"github.com/HyperCyx/otpbot/internal/usecase"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize logger
	log := logger.New(cfg.Logging.Level)
	log.Info().
		Str("service", cfg.Service.Name).
		Str("port", cfg.Service.Port).
		Msg("Starting OTP bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// 3. Connect to MongoDB
	log.Info().Msg("Connecting to MongoDB...")
	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	mongoClient, err := mongoInfra.Connect(connectCtx, mongoInfra.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Logger:   log,
	})
	connectCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	if err := mongoClient.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure MongoDB indexes")
	}

	// 4. Initialize repositories
	db := mongoClient.Database()
	userRepo := mongoRepo.NewUserRepository(db)
	pendingRepo := mongoRepo.NewPendingNumberRepository(db)
	usedRepo := mongoRepo.NewUsedNumberRepository(db)
	countryRepo := mongoRepo.NewCountryRepository(db)
	withdrawalRepo := mongoRepo.NewWithdrawalRepository(db)
	cardRepo := mongoRepo.NewCardRepository(db)
	transactionRepo := mongoRepo.NewTransactionRepository(db)

	// 5. Initialize session file store
	sessionStore, err := sessionstore.New(cfg.Sessions.Dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session store")
	}

	// 6. Initialize proxy pool and MTProto verifier
	pool := proxy.NewPool(cfg.Telegram.ProxyList, log)
	devices := tgInfra.NewDevicePicker(cfg.Telegram.DeviceType)

	verifier, err := tgInfra.NewVerifier(tgInfra.VerifierConfig{
		APIID:              cfg.Telegram.APIID,
		APIHash:            cfg.Telegram.APIHash,
		Default2FAPassword: cfg.Telegram.Default2FAPassword,
		Pool:               pool,
		Devices:            devices,
		Logger:             log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create verifier")
	}

	// 7. Initialize audit publisher
	var auditPublisher domain.AuditPublisher = kafkaInfra.NopPublisher{}
	var auditProducer *kafkaInfra.AuditProducer
	if len(cfg.Kafka.Brokers) > 0 {
		auditProducer, err = kafkaInfra.NewAuditProducer(kafkaInfra.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.AuditTopic,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create audit producer")
		}
		auditPublisher = auditProducer
	} else {
		log.Warn().Msg("No Kafka brokers configured, audit events disabled")
	}

	// 8. Initialize Telegram bot
	bot, err := tgInfra.NewBot(cfg.Telegram.BotToken, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram bot")
	}

	// 9. Initialize use cases
	registry := usecase.NewRegistry(log)

	verificationUseCase := usecase.NewVerificationUseCase(
		userRepo,
		pendingRepo,
		usedRepo,
		countryRepo,
		transactionRepo,
		sessionStore,
		verifier,
		auditPublisher,
		bot,
		registry,
		usecase.VerificationConfig{
			AdminIDs:      cfg.Telegram.AdminIDs,
			AutoCancelAge: cfg.Sessions.AutoCancelAge,
		},
		log,
	)

	withdrawalUseCase := usecase.NewWithdrawalUseCase(
		userRepo,
		withdrawalRepo,
		cardRepo,
		transactionRepo,
		auditPublisher,
		bot,
		usecase.WithdrawalConfig{
			MinLeaderCard: cfg.Withdrawal.MinLeaderCard,
			MinBinance:    cfg.Withdrawal.MinBinance,
			LogChatID:     cfg.Telegram.WithdrawalLogChat,
		},
		log,
	)

	sweeper := usecase.NewSweeper(
		verificationUseCase,
		registry,
		verifier,
		sessionStore,
		usecase.SweeperConfig{
			SweepInterval: cfg.Sessions.SweepInterval,
			CleanupEvery:  cfg.Sessions.CleanupEvery,
			TempMaxAge:    cfg.Sessions.TempMaxAge,
		},
		log,
	)

	adminUseCase := usecase.NewAdminUseCase(
		countryRepo,
		cardRepo,
		sessionStore,
		pool,
		sweeper,
		log,
	)

	// 10. Register bot routes
	handler := tgDelivery.NewHandler(
		bot,
		verificationUseCase,
		withdrawalUseCase,
		adminUseCase,
		cfg.Telegram.AdminIDs,
		log,
	)
	handler.Register()

	// 11. Start HTTP server for health checks
	healthHandler := httpDelivery.NewHealthHandler(
		mongoClient,
		auditPublisher,
		verificationUseCase,
		log,
	)
	httpServer := httpDelivery.NewServer(cfg.Service.Port, healthHandler, log)
	if err := httpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	// 12. Start maintenance jobs
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance jobs")
	}

	// 13. Start the bot
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Bot goroutine panic recovered")
			}
		}()

		if err := bot.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Bot stopped with error")
		}
	}()

	log.Info().Msg("OTP bot initialized successfully")

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Received shutdown signal, starting graceful shutdown...")

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Bot stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for bot to stop")
	}

	// Explicit shutdown sequence (not using defer to control order)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Shutdown HTTP server (stop accepting new health check requests)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// 2. Stop maintenance jobs
	log.Info().Msg("Stopping maintenance jobs...")
	sweeper.Stop(shutdownCtx)

	// 3. Stop background verifications
	log.Info().Msg("Stopping background verifications...")
	verificationUseCase.Shutdown(shutdownCtx)

	// 4. Disconnect in-flight login clients
	log.Info().Msg("Disconnecting login clients...")
	verifier.Shutdown(shutdownCtx)

	// 5. Close the audit producer (flush pending events)
	if auditProducer != nil {
		log.Info().Msg("Closing audit producer...")
		if err := auditProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing audit producer")
		}
	}

	// 6. Close MongoDB
	log.Info().Msg("Closing MongoDB connection...")
	if err := mongoClient.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}

	log.Info().Msg("OTP bot stopped successfully")
}
