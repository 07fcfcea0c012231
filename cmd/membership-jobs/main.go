package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/config"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/jobs"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository/postgres"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/scheduler"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/service"
)

const notificationQueueSize = 256

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'sweep-stale-applications', 'promote-applications', 'sync-memberships', 'all')")
	syncYear := flag.Int("year", 0, "Year replayed by sync-memberships (defaults to the current year)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting membership job runner...", "log_level", cfg.Log.Level)

	// Load rate tables
	rates, err := fees.LoadRateBook(cfg.Rates.Path)
	if err != nil {
		logger.Error("Failed to load rate tables", "path", cfg.Rates.Path, "error", err)
		log.Fatalf("Failed to load rate tables: %v", err)
	}

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Initialize Services
	var mailer service.Notifier = service.LogNotifier{}
	if cfg.SendGrid.APIKey != "" {
		mailer = service.NewSendGridNotifier(cfg.SendGrid)
	} else {
		logger.Warn("No SendGrid api key configured, notifications are only logged")
	}
	notifier := service.NewAsyncNotifier(mailer, notificationQueueSize)
	defer notifier.Close()

	invoicer := service.NewStoreInvoicer(store)
	duplicates := service.NewStoreDuplicateChecker(store)
	feeService := service.NewFeeService(store, rates, cfg.Membership.HomeCountry)
	promotionService := service.NewPromotionService(store, feeService, invoicer, notifier, duplicates)
	statusService := service.NewMembershipStatusService(store, duplicates)

	jobServices := &jobs.Services{
		Promotion: promotionService,
		Status:    statusService,
		Invoices:  invoicer,
	}

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(store, jobServices, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !runJobOnce(jobRunner, *runOnce, *syncYear) {
			notifier.Close()
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		logger.Error("Failed to initialize scheduler", "error", err)
		notifier.Close()
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Membership job scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down membership job scheduler...")
	cronScheduler.Stop()
	logger.Info("Membership job scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once. It returns false for unknown jobs.
func runJobOnce(jobRunner *jobs.JobRunner, jobName string, year int) bool {
	switch jobName {
	case "sweep-stale-applications":
		jobRunner.SweepStaleApplications()
	case "promote-applications":
		jobRunner.PromoteApplications()
	case "sync-memberships":
		if year == 0 {
			jobRunner.SyncCurrentYear()
		} else {
			jobRunner.SyncMemberships(year)
		}
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - sweep-stale-applications\n")
		fmt.Printf("  - promote-applications\n")
		fmt.Printf("  - sync-memberships [-year YYYY]\n")
		fmt.Printf("  - all\n")
		return false
	}
	return true
}
