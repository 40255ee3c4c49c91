package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/repo"
)

// BlockService runs the card-block request lifecycle:
// PENDING -> APPROVED | REJECTED, nothing else.
type BlockService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewBlockService returns BlockService.
func NewBlockService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *BlockService {
	return &BlockService{repo: r, log: logger}
}

// CreateBlockRequest opens a PENDING request for an owned card. At most one
// PENDING request may exist per card; the count check runs under the card's
// row lock so two concurrent creates cannot both pass.
func (s *BlockService) CreateBlockRequest(ctx context.Context, cardID uint64, requesterID uuid.UUID) (*model.CardBlockRequest, error) {
	var req *model.CardBlockRequest
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.GetCardForUpdate(ctx, tx, cardID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("card", cardID)
			}
			return err
		}
		if card.OwnerID != requesterID {
			return ErrNotOwner
		}
		pending, err := s.repo.CountPendingBlockRequests(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrDuplicateRequest
		}
		req = &model.CardBlockRequest{CardID: cardID, Status: model.BlockPending}
		return s.repo.CreateBlockRequest(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("block request %d opened for card %d", req.ID, cardID)
	return req, nil
}

// ApproveBlock resolves the pending request and sets the card BLOCKED. Both
// writes commit together or not at all.
func (s *BlockService) ApproveBlock(ctx context.Context, cardID uint64, adminID uuid.UUID) (*model.CardBlockRequest, error) {
	return s.resolve(ctx, cardID, adminID, model.BlockApproved, model.StatusBlocked)
}

// RejectBlock resolves the pending request and restores the card to ACTIVE.
func (s *BlockService) RejectBlock(ctx context.Context, cardID uint64, adminID uuid.UUID) (*model.CardBlockRequest, error) {
	return s.resolve(ctx, cardID, adminID, model.BlockRejected, model.StatusActive)
}

func (s *BlockService) resolve(ctx context.Context, cardID uint64, adminID uuid.UUID, reqStatus, cardStatus string) (*model.CardBlockRequest, error) {
	target, err := s.repo.GetStatusByName(ctx, cardStatus)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &StatusNotConfiguredError{Status: cardStatus}
		}
		return nil, err
	}
	var req *model.CardBlockRequest
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err = s.repo.GetPendingBlockRequestForUpdate(ctx, tx, cardID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoPendingRequest
			}
			return err
		}
		card, err := s.repo.GetCardForUpdate(ctx, tx, cardID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("card", cardID)
			}
			return err
		}
		if err := s.repo.UpdateCardStatus(ctx, tx, cardID, target.ID, card.Version); err != nil {
			return err
		}
		now := time.Now()
		if err := s.repo.ResolveBlockRequest(ctx, tx, req.ID, reqStatus, adminID, now); err != nil {
			return err
		}
		req.Status = reqStatus
		req.ProcessedAt = &now
		req.ProcessedBy = &adminID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("block request %d for card %d resolved %s by %s", req.ID, cardID, reqStatus, adminID)
	return req, nil
}
