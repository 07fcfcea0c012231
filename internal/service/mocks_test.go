package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
)

// MockNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, templateKey string, recipient *domain.Person, data map[string]any) error {
	args := m.Called(ctx, templateKey, recipient, data)
	return args.Error(0)
}

// MockInvoiceCreator
type MockInvoiceCreator struct {
	mock.Mock
}

func (m *MockInvoiceCreator) CreateInvoice(ctx context.Context, person *domain.Person, positions []fees.Position, year int, linkRole *domain.Role) (*domain.Invoice, error) {
	args := m.Called(ctx, person, positions, year, linkRole)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

// MockDuplicateChecker
type MockDuplicateChecker struct {
	mock.Mock
}

func (m *MockDuplicateChecker) EnqueueDuplicateCheck(ctx context.Context, personID int32) error {
	args := m.Called(ctx, personID)
	return args.Error(0)
}

// MockFeeService
type MockFeeService struct {
	mock.Mock
}

func (m *MockFeeService) PositionsFor(ctx context.Context, personID, sectionID int32, referenceDate time.Time, newEntry bool) ([]fees.Position, error) {
	args := m.Called(ctx, personID, sectionID, referenceDate, newEntry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fees.Position), args.Error(1)
}
