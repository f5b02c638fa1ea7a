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

	"securebank/internal/account"
	"securebank/internal/handler"
	"securebank/internal/middleware"
	"securebank/internal/notification"
	"securebank/internal/repository/postgres"
	"securebank/pkg/config"
	"securebank/pkg/logger"
	"securebank/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("account-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Account Service", map[string]interface{}{
		"port": cfg.Server.Port,
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
		// Rate limiting degrades without Redis; balances do not depend on it.
		log.Warn("Redis unavailable, rate limiting degraded", map[string]interface{}{
			"error": err.Error(),
		})
	}

	accountRepo := postgres.NewAccountRepository(db)
	allocator := account.NewNumberAllocator(accountRepo, cfg.Business.AllocatorRetries)

	var notifier notification.Dispatcher = notification.Noop{}
	if cfg.Notification.BaseURL != "" {
		notifier = notification.NewHTTPDispatcher(cfg.Notification.BaseURL, cfg.Notification.RequestTimeout, log)
	}

	policy := account.BalancePolicy{
		AllowOverdraft: cfg.Business.AllowOverdraft,
		OverdraftFloor: cfg.Business.OverdraftFloorDecimal(),
	}
	accountService := account.NewService(accountRepo, allocator, notifier, policy, log)

	val := validator.New()
	accountHandler := handler.NewAccountHandler(accountService, val, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, "account")

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
	api.Use(middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate)
	api.Use(middleware.NewRateLimiter(redisClient, 300, time.Minute, log).Limit)

	api.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	api.HandleFunc("/accounts/{accountNumber}", accountHandler.GetAccount).Methods("GET")
	api.HandleFunc("/accounts/{accountNumber}/close", accountHandler.CloseAccount).Methods("POST")
	api.HandleFunc("/accounts/{accountNumber}/exists", accountHandler.Exists).Methods("GET")
	api.HandleFunc("/accounts/{accountNumber}/sufficient-balance", accountHandler.SufficientBalance).Methods("GET")
	api.HandleFunc("/accounts/{accountNumber}/owner", accountHandler.Owner).Methods("GET")
	api.HandleFunc("/accounts/{accountNumber}/adjust", accountHandler.Adjust).Methods("POST")
	api.HandleFunc("/clients/{clientID}/accounts", accountHandler.GetClientAccounts).Methods("GET")

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Account service started", map[string]interface{}{
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

	log.Info("Shutting down account service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Account service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Account service stopped gracefully", nil)
}
