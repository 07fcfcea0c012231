package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeSkipped   OutcomeStatus = "SKIPPED" // conditions not met, left pending
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome is the per-entity result of a batch operation.
type Outcome struct {
	PersonID int32
	RoleID   int32
	Status   OutcomeStatus
	Err      error
}

// BatchResult aggregates outcomes. A batch never aborts on a single failure.
type BatchResult struct {
	RunID    string
	Outcomes []Outcome
}

func newBatchResult() *BatchResult {
	return &BatchResult{RunID: uuid.NewString()}
}

func (b *BatchResult) add(o Outcome) {
	b.Outcomes = append(b.Outcomes, o)
}

func (b *BatchResult) count(status OutcomeStatus) int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func (b *BatchResult) Succeeded() int { return b.count(OutcomeSucceeded) }
func (b *BatchResult) Skipped() int   { return b.count(OutcomeSkipped) }
func (b *BatchResult) Failed() int    { return b.count(OutcomeFailed) }

// clock returns the current day in UTC.
type clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// sideEffects are dispatched after commit. Their failures are logged and never
// reach the caller.
type sideEffects struct {
	notifier   Notifier
	duplicates DuplicateChecker
}

func (e sideEffects) notify(ctx context.Context, templateKey string, person *domain.Person, data map[string]any) {
	if e.notifier == nil || person == nil {
		return
	}
	if err := e.notifier.Send(ctx, templateKey, person, data); err != nil {
		logger.Warn("Failed to send notification", "template", templateKey, "person_id", person.ID, "error", err)
	}
}

func (e sideEffects) checkDuplicates(ctx context.Context, personID int32) {
	if e.duplicates == nil {
		return
	}
	if err := e.duplicates.EnqueueDuplicateCheck(ctx, personID); err != nil {
		logger.Warn("Failed to enqueue duplicate check", "person_id", personID, "error", err)
	}
}
