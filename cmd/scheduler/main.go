// Command scheduler runs the delivery trigger scheduler without the HTTP
// API. Deploy it as a standalone process when the API tier is scaled
// separately; distributed locks keep multiple instances from double-firing.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/repository/postgres"
	"github.com/cipheracademy/dispatch/internal/service/delivery"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
	"github.com/cipheracademy/dispatch/internal/transport/email"
	"github.com/cipheracademy/dispatch/internal/transport/sms"
	"github.com/cipheracademy/dispatch/internal/worker"
)

func main() {
	log.Println("Starting Cipher Academy trigger scheduler...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	subscriberRepo := postgres.NewSubscriberRepo(db)
	contentRepo := postgres.NewContentRepo(db)
	ledgerRepo := postgres.NewLedgerRepo(db)
	welcomeRepo := postgres.NewWelcomeRepo(db)
	progressRepo := postgres.NewProgressRepo(db)
	submissionRepo := postgres.NewSubmissionRepo(db)

	var emailSender email.Sender
	if cfg.SES.Enabled {
		emailSender, err = email.NewSESSender(context.Background(), cfg.SES, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName)
		if err != nil {
			log.Fatalf("Failed to initialize SES sender: %v", err)
		}
	} else {
		emailSender = email.NewSendGridSender(cfg.SendGrid)
	}

	var smsSender delivery.SMSSender
	if cfg.Twilio.Enabled {
		smsSender = sms.NewTwilioSender(cfg.Twilio)
	}

	renderer := delivery.NewRenderer(cfg.Welcome.SiteBaseURL, cfg.Welcome.SMSCharLimit)
	orchestrator := delivery.NewOrchestrator(subscriberRepo, contentRepo, submissionRepo, ledgerRepo, emailSender, smsSender, renderer)

	personalizer := welcome.NewPersonalizer(cfg.Welcome.SiteBaseURL)
	welcomeSvc := welcome.NewService(welcomeRepo, welcomeRepo, subscriberRepo, progressRepo, emailSender, personalizer)

	scheduler, err := worker.NewTriggerScheduler(orchestrator, welcomeSvc, db, cfg.Scheduler)
	if err != nil {
		log.Fatalf("Failed to initialize trigger scheduler: %v", err)
	}
	if redisClient != nil {
		scheduler.SetRedisClient(redisClient)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start trigger scheduler: %v", err)
	}
	log.Println("Trigger scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down scheduler...")
	scheduler.Stop()
	log.Println("Scheduler stopped")
}
