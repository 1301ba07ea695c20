package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/auditor"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/config"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/consumer"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/handler"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/notifier"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/repository"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/service"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/store"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/database"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/middleware"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/pubsub"
)

type closer func()

func main() {
	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "social-graph-engine",
	})
	logger := pkglog.L()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 3. Account store
	var (
		db            *gorm.DB
		accountRepo   repository.AccountRepository
		notifications repository.NotificationRepository
	)
	openDB := func() *gorm.DB {
		if db != nil {
			return db
		}
		db = mustOpenDatabase(cfg.Database, logger)
		closers = append(closers, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
		return db
	}

	switch cfg.Store.Driver {
	case "gorm":
		accountRepo = repository.NewGormAccountRepository(openDB())
		notifications = repository.NewGormNotificationRepository(openDB())

	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create neo4j driver")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Str("uri", cfg.Neo4j.URI).Msg("failed to connect to neo4j")
		}
		neoRepo := repository.NewNeo4jAccountRepository(driver)
		if err := neoRepo.EnsureSchema(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure neo4j schema")
		}
		cancel()
		closers = append(closers, func() { driver.Close(context.Background()) })
		accountRepo = neoRepo
		logger.Info().Str("uri", cfg.Neo4j.URI).Msg("neo4j connected")

	case "memory":
		memRepo := repository.NewMemoryAccountRepository()
		for _, id := range cfg.Store.SeedAccounts {
			memRepo.Create(id)
		}
		accountRepo = memRepo
		notifications = repository.NewMemoryNotificationRepository()
		logger.Warn().Int("seeded", len(cfg.Store.SeedAccounts)).Msg("using in-memory account store")
	}

	// 4. Notification sinks + dispatcher
	var sinks []notifier.Sink
	for _, name := range cfg.Notify.Sinks {
		switch name {
		case "store":
			if notifications == nil {
				notifications = repository.NewGormNotificationRepository(openDB())
			}
			sinks = append(sinks, notifier.NewStoreSink(notifications))

		case "kafka":
			kp, err := notifier.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Notify.KafkaTopic)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to create kafka publisher, kafka notifications disabled")
				continue
			}
			closers = append(closers, func() { kp.Close() })
			sinks = append(sinks, kp)

		case "nats":
			np, err := notifier.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to connect to nats, nats notifications disabled")
				continue
			}
			closers = append(closers, func() { np.Close() })
			sinks = append(sinks, np)

		case "redis":
			rc := pubsub.DefaultRedisConfig()
			rc.Address = cfg.Redis.Address
			rc.Password = cfg.Redis.Password
			rc.DB = cfg.Redis.DB
			rp, err := pubsub.NewRedisPublisher(rc)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to connect to redis, live notifications disabled")
				continue
			}
			live := notifier.NewLiveSink(rp)
			closers = append(closers, func() { live.Close() })
			sinks = append(sinks, live)
		}
	}
	dispatcher := notifier.NewDispatcher(sinks, notifier.Config{
		QueueSize:       cfg.Notify.QueueSize,
		Workers:         cfg.Notify.Workers,
		DeliveryTimeout: cfg.Notify.Timeout,
	})
	dispatcher.Start()

	// 5. Engine
	svc := service.NewSocialGraphService(accountRepo, dispatcher, service.Options{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		InitialBackoff: cfg.Engine.InitialBackoff,
		MaxBackoff:     cfg.Engine.MaxBackoff,
		MaxAuditPeers:  cfg.Engine.MaxAuditPeers,
	})

	// 6. Redis count cache
	var countStore store.CountStore
	if cfg.Cache.Enabled {
		rs, err := store.NewRedisCountStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.CountsTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect to redis, count cache disabled")
		} else {
			countStore = rs
			closers = append(closers, func() { rs.Close() })
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
	}

	// 7. Auth
	verifier, err := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token verifier")
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. Account-deletion CDC consumer
	var kafkaConsumer *consumer.ConfluentConsumer
	if cfg.Kafka.ConsumeAccounts && cfg.Kafka.Brokers != "" {
		kc, err := consumer.NewConfluentConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.AccountTopic,
			cfg.Kafka.GroupID,
			svc, // service implements AccountEventHandler
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka consumer, account purge disabled")
		} else if err := kc.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to start kafka consumer")
		} else {
			kafkaConsumer = kc
		}
	} else {
		logger.Warn().Msg("account CDC consumer disabled")
	}

	// 9. Auditor, fed by the hot-key set of the count cache
	var aud *auditor.Auditor
	if cfg.Auditor.Enabled && countStore != nil {
		aud = auditor.New(countStore, svc, cfg.Auditor)
		aud.Start(ctx)
		logger.Info().
			Dur("interval", cfg.Auditor.Interval).
			Int("top_n", cfg.Auditor.TopN).
			Bool("repair", cfg.Auditor.Repair).
			Msg("auditor started")
	}

	// 10. Setup Gin router + HTTP server
	httpHandler := handler.NewHandler(svc, countStore, authMiddleware)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	httpHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("social-graph-engine starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		// Drain HTTP first so no new follows reach the dispatcher.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}

		cancel()

		if kafkaConsumer != nil {
			if err := kafkaConsumer.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing kafka consumer")
			}
		}

		if aud != nil {
			aud.Stop()
			<-aud.Done()
		}

		dispatcher.Stop()
		<-dispatcher.Done()
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("social-graph-engine stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}

func mustOpenDatabase(c config.DatabaseConfig, logger zerolog.Logger) *gorm.DB {
	db, err := database.New(&database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogLevel:        c.LogLevel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if c.AutoMigrate {
		if err := database.AutoMigrate(db, &domain.AccountModel{}, &domain.NotificationModel{}); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		logger.Info().Msg("database migration completed")
	}
	return db
}
