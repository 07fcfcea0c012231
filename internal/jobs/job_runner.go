package jobs

import (
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/config"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store    repository.TxManager
	services *Services
	config   *config.Config
	now      func() time.Time
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Promotion service.PromotionService
	Status    service.MembershipStatusService
	Invoices  service.InvoiceCanceller
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.TxManager, services *Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		store:    store,
		services: services,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	start := time.Now()
	jobFunc()
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
}

// RunAll runs every job once in dependency order (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.SweepStaleApplications()
	jr.PromoteApplications()
	jr.SyncCurrentYear()
}
