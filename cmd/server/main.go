package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/cipheracademy/dispatch/internal/api"
	"github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/repository/postgres"
	"github.com/cipheracademy/dispatch/internal/service/delivery"
	"github.com/cipheracademy/dispatch/internal/service/progress"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
	"github.com/cipheracademy/dispatch/internal/transport/email"
	"github.com/cipheracademy/dispatch/internal/transport/sms"
	"github.com/cipheracademy/dispatch/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Starting Cipher Academy dispatch server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional; without it the scheduler falls back to PG
	// advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		log.Printf("Redis configured at %s for scheduler locks", cfg.Redis.Addr)
	}

	subscriberRepo := postgres.NewSubscriberRepo(db)
	contentRepo := postgres.NewContentRepo(db)
	ledgerRepo := postgres.NewLedgerRepo(db)
	welcomeRepo := postgres.NewWelcomeRepo(db)
	progressRepo := postgres.NewProgressRepo(db)
	submissionRepo := postgres.NewSubmissionRepo(db)

	var emailSender email.Sender
	if cfg.SES.Enabled {
		sesSender, err := email.NewSESSender(context.Background(), cfg.SES, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName)
		if err != nil {
			log.Fatalf("Failed to initialize SES sender: %v", err)
		}
		emailSender = sesSender
		log.Printf("Email channel: AWS SES (%s)", cfg.SES.Region)
	} else {
		emailSender = email.NewSendGridSender(cfg.SendGrid)
		log.Println("Email channel: SendGrid")
	}

	var smsSender delivery.SMSSender
	if cfg.Twilio.Enabled {
		smsSender = sms.NewTwilioSender(cfg.Twilio)
		log.Println("SMS channel: Twilio")
	} else {
		log.Println("SMS channel disabled")
	}

	renderer := delivery.NewRenderer(cfg.Welcome.SiteBaseURL, cfg.Welcome.SMSCharLimit)
	orchestrator := delivery.NewOrchestrator(subscriberRepo, contentRepo, submissionRepo, ledgerRepo, emailSender, smsSender, renderer)

	personalizer := welcome.NewPersonalizer(cfg.Welcome.SiteBaseURL)
	welcomeSvc := welcome.NewService(welcomeRepo, welcomeRepo, subscriberRepo, progressRepo, emailSender, personalizer)

	progressSvc := progress.NewService(contentRepo, submissionRepo, progressRepo)

	var scheduler *worker.TriggerScheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = worker.NewTriggerScheduler(orchestrator, welcomeSvc, db, cfg.Scheduler)
		if err != nil {
			log.Fatalf("Failed to initialize trigger scheduler: %v", err)
		}
		if redisClient != nil {
			scheduler.SetRedisClient(redisClient)
		}
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start trigger scheduler: %v", err)
		}
		log.Println("Trigger scheduler started")
	} else {
		log.Println("Trigger scheduler disabled; periods fire only via the admin API")
	}

	var schedulerStatus api.SchedulerStatus
	if scheduler != nil {
		schedulerStatus = scheduler
	}
	handlers := api.NewHandlers(orchestrator, welcomeSvc, progressSvc, schedulerStatus)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		log.Printf("API server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
