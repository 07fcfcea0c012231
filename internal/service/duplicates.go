package service

import (
	"context"
	"fmt"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
)

// StoreDuplicateChecker flags people sharing name and birthday with someone
// else. Flagged people are not promoted until the flag is cleared.
type StoreDuplicateChecker struct {
	store repository.Store
}

func NewStoreDuplicateChecker(store repository.Store) *StoreDuplicateChecker {
	return &StoreDuplicateChecker{store: store}
}

func (c *StoreDuplicateChecker) EnqueueDuplicateCheck(ctx context.Context, personID int32) error {
	person, err := c.store.People().GetByID(ctx, personID)
	if err != nil {
		return err
	}
	if person.DuplicateSuspected {
		return nil
	}
	similar, err := c.store.People().FindSimilar(ctx, person)
	if err != nil {
		return fmt.Errorf("failed to look up duplicates: %w", err)
	}
	if len(similar) == 0 {
		return nil
	}

	person.DuplicateSuspected = true
	if err := c.store.People().Update(ctx, person); err != nil {
		return err
	}
	logger.Warn("Possible duplicate person", "person_id", person.ID, "duplicate_of", similar[0].ID)
	return nil
}
