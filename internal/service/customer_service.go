package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/repo"
)

// CustomerService owns the authoritative customer record. Every mutation
// records its outbox event inside the same transaction, so a rollback leaves
// no observable event.
type CustomerService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewCustomerService returns CustomerService.
func NewCustomerService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *CustomerService {
	return &CustomerService{repo: r, log: logger}
}

// customerEvent is the domain payload carried inside outbox rows.
type customerEvent struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// CreateCustomer inserts the customer and its CUSTOMER_CREATED event.
func (s *CustomerService) CreateCustomer(ctx context.Context, name, email string) (*model.Customer, error) {
	cust := &model.Customer{
		ID:     uuid.New(),
		Name:   name,
		Email:  email,
		Status: model.CustomerActive,
	}
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cust).Error; err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, model.EventCustomerCreated, cust)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("customer %s created", cust.ID)
	return cust, nil
}

// UpdateCustomerStatus flips the customer status and records CUSTOMER_UPDATED.
func (s *CustomerService) UpdateCustomerStatus(ctx context.Context, id uuid.UUID, status string) (*model.Customer, error) {
	var cust model.Customer
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&cust).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("customer", id)
			}
			return err
		}
		cust.Status = status
		if err := tx.Save(&cust).Error; err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, model.EventCustomerUpdated, &cust)
	})
	if err != nil {
		return nil, err
	}
	return &cust, nil
}

// DeleteCustomer removes the row and records CUSTOMER_DELETED. Downstream the
// projection keeps a tombstone row so late events still resolve.
func (s *CustomerService) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var cust model.Customer
		if err := tx.Where("id = ?", id).First(&cust).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("customer", id)
			}
			return err
		}
		if err := tx.Delete(&cust).Error; err != nil {
			return err
		}
		cust.Status = model.CustomerDeleted
		return s.recordEvent(ctx, tx, model.EventCustomerDeleted, &cust)
	})
}

// recordEvent writes the outbox row for a customer mutation. Valid only
// inside the transaction that performs the mutation.
func (s *CustomerService) recordEvent(ctx context.Context, tx *gorm.DB, eventType string, cust *model.Customer) error {
	payload, err := json.Marshal(customerEvent{ID: cust.ID, Status: cust.Status})
	if err != nil {
		return err
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Customer",
		AggregateID: cust.ID.String(),
		EventType:   eventType,
		Payload:     string(payload),
	}
	return s.repo.CreateOutboxEvent(ctx, tx, evt)
}
