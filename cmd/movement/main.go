package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"securebank/internal/handler"
	"securebank/internal/middleware"
	"securebank/internal/movement"
	"securebank/internal/notification"
	"securebank/internal/repository/postgres"
	"securebank/pkg/config"
	"securebank/pkg/logger"
	"securebank/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("movement-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Movement Service", map[string]interface{}{
		"port":            cfg.Server.Port,
		"account_service": cfg.Ledger.BaseURL,
	})

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unavailable, rate limiting and edge idempotency degraded", map[string]interface{}{
			"error": err.Error(),
		})
	}

	movementRepo := postgres.NewMovementRepository(db)
	ledgerClient := movement.NewHTTPAccountClient(cfg.Ledger.BaseURL, cfg.Ledger.Token, cfg.Ledger.RequestTimeout)

	var notifier notification.Dispatcher = notification.Noop{}
	if cfg.Notification.BaseURL != "" {
		notifier = notification.NewHTTPDispatcher(cfg.Notification.BaseURL, cfg.Notification.RequestTimeout, log)
	}

	movementService := movement.NewService(movementRepo, ledgerClient, notifier, log)

	val := validator.New()
	movementHandler := handler.NewMovementHandler(movementService, val, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, "movement")

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	idemMW := middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour)

	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(1 << 20))

	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	r.HandleFunc("/ready", healthHandler.Ready).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(middleware.NewRateLimiter(redisClient, 120, time.Minute, log).Limit)

	movements := api.PathPrefix("/movements").Subrouter()
	movements.Use(idemMW.Guard)
	movements.HandleFunc("/deposit", movementHandler.Deposit).Methods("POST")
	movements.HandleFunc("/withdraw", movementHandler.Withdraw).Methods("POST")
	movements.HandleFunc("/transfer", movementHandler.Transfer).Methods("POST")
	movements.HandleFunc("/{id}", movementHandler.GetMovement).Methods("GET")
	movements.HandleFunc("/{id}/cancel", movementHandler.Cancel).Methods("POST")

	api.HandleFunc("/accounts/{accountNumber}/movements", movementHandler.GetAccountMovements).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMW.RequireRole("operator"))
	admin.HandleFunc("/movements", movementHandler.GetMovementsByTimeRange).Methods("GET")
	admin.HandleFunc("/movements/inconsistent", movementHandler.GetInconsistentMovements).Methods("GET")

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Movement service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down movement service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Movement service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Movement service stopped gracefully", nil)
}
