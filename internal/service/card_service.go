package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/pan"
	"github.com/cardforge/card-service/internal/repo"
)

// IssuanceOptions bound the PAN-collision retry loop.
type IssuanceOptions struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// CardService is the ledger engine: issuance, transfers and balance moves
// against the identity projection.
type CardService struct {
	repo repo.RepositoryInterface
	gen  pan.Generator
	log  *zap.SugaredLogger
	opts IssuanceOptions
}

// NewCardService returns CardService.
func NewCardService(r repo.RepositoryInterface, g pan.Generator, logger *zap.SugaredLogger, opts IssuanceOptions) *CardService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	return &CardService{repo: r, gen: g, log: logger, opts: opts}
}

// validity window granted at issuance
const defaultExpiryYears = 4

// IssueCard creates a new zero-balance ACTIVE card for ownerID. A missing
// owner is retryable from the caller's side: the projection may simply not
// have caught up with the event feed yet.
func (s *CardService) IssueCard(ctx context.Context, ownerID uuid.UUID) (*model.Card, error) {
	owner, err := s.repo.GetUser(ctx, s.repo.DB(ctx), ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("owner", ownerID)
		}
		return nil, err
	}
	if owner.Status == model.CustomerDeleted {
		return nil, ErrOwnerDeleted
	}

	active, err := s.repo.GetStatusByName(ctx, model.StatusActive)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &StatusNotConfiguredError{Status: model.StatusActive}
		}
		return nil, err
	}

	expiry := time.Now().AddDate(defaultExpiryYears, 0, 0).Format(model.ExpiryLayout)

	// PAN collisions are expected; regenerate and retry up to the ceiling.
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		number, err := s.gen.Generate()
		if err != nil {
			return nil, err
		}
		card := &model.Card{
			PAN:        number,
			OwnerID:    ownerID,
			ExpiryDate: expiry,
			StatusID:   active.ID,
			Balance:    decimal.Zero,
		}
		err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			return s.repo.CreateCard(ctx, tx, card)
		})
		if err == nil {
			if err := s.repo.CacheBalance(ctx, card.ID, card.Balance); err != nil {
				s.log.Warnf("cache balance card=%d: %v", card.ID, err)
			}
			return card, nil
		}
		if !repo.IsDuplicate(err) {
			return nil, err
		}
		s.log.Infof("pan collision on attempt %d/%d, regenerating", attempt, s.opts.MaxAttempts)
		time.Sleep(s.opts.RetryDelay)
	}
	return nil, ErrIssuanceExhausted
}

// Transfer moves amt between two cards owned by requester. Both balance
// updates commit in one transaction; the sum of the two balances is invariant.
func (s *CardService) Transfer(ctx context.Context, fromID, toID uint64, amt decimal.Decimal, requesterID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	if fromID == toID {
		return decimal.Zero, decimal.Zero, ErrSelfTransfer
	}
	blocked, err := s.blockedStatus(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var fromBal, toBal decimal.Decimal
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		// lock cards in deterministic order to avoid deadlock
		firstID, secondID := fromID, toID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}
		c1, err := s.lockCard(ctx, tx, firstID, fromID)
		if err != nil {
			return err
		}
		c2, err := s.lockCard(ctx, tx, secondID, fromID)
		if err != nil {
			return err
		}
		cFrom, cTo := c1, c2
		if firstID != fromID {
			cFrom, cTo = c2, c1
		}
		if cFrom.OwnerID != requesterID || cTo.OwnerID != requesterID {
			return ErrNotOwner
		}
		if cFrom.StatusID == blocked.ID {
			return &CardBlockedError{CardID: cFrom.ID}
		}
		if cTo.StatusID == blocked.ID {
			return &CardBlockedError{CardID: cTo.ID}
		}
		if amt.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidAmount
		}
		if cFrom.Balance.LessThan(amt) {
			return ErrInsufficientFunds
		}
		newFrom := cFrom.Balance.Sub(amt)
		newTo := cTo.Balance.Add(amt)
		if err := s.repo.UpdateCardBalance(ctx, tx, cFrom.ID, newFrom, cFrom.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateCardBalance(ctx, tx, cTo.ID, newTo, cTo.Version); err != nil {
			return err
		}
		fromBal, toBal = newFrom, newTo
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, fromID, fromBal); err != nil {
		s.log.Warnf("cache balance card=%d: %v", fromID, err)
	}
	if err := s.repo.CacheBalance(ctx, toID, toBal); err != nil {
		s.log.Warnf("cache balance card=%d: %v", toID, err)
	}
	return fromBal, toBal, nil
}

// Deposit adds money to an owned, non-blocked card.
func (s *CardService) Deposit(ctx context.Context, cardID uint64, amt decimal.Decimal, requesterID uuid.UUID) (decimal.Decimal, error) {
	return s.adjust(ctx, cardID, amt, requesterID, false)
}

// Withdraw subtracts money from an owned, non-blocked card with enough funds.
func (s *CardService) Withdraw(ctx context.Context, cardID uint64, amt decimal.Decimal, requesterID uuid.UUID) (decimal.Decimal, error) {
	return s.adjust(ctx, cardID, amt, requesterID, true)
}

func (s *CardService) adjust(ctx context.Context, cardID uint64, amt decimal.Decimal, requesterID uuid.UUID, debit bool) (decimal.Decimal, error) {
	blocked, err := s.blockedStatus(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var finalBal decimal.Decimal
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
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
		if card.StatusID == blocked.ID {
			return &CardBlockedError{CardID: card.ID}
		}
		if amt.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidAmount
		}
		newBal := card.Balance.Add(amt)
		if debit {
			if card.Balance.LessThan(amt) {
				return ErrInsufficientFunds
			}
			newBal = card.Balance.Sub(amt)
		}
		if err := s.repo.UpdateCardBalance(ctx, tx, cardID, newBal, card.Version); err != nil {
			return err
		}
		finalBal = newBal
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, cardID, finalBal); err != nil {
		s.log.Warnf("cache balance card=%d: %v", cardID, err)
	}
	return finalBal, nil
}

// GetBalance returns the card balance, cache first.
func (s *CardService) GetBalance(ctx context.Context, cardID uint64) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, cardID)
	if err == nil {
		return bal, nil
	}
	var card model.Card
	if err := s.repo.DB(ctx).Where("id = ?", cardID).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, NotFound("card", cardID)
		}
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, cardID, card.Balance); err != nil {
		s.log.Warnf("cache balance card=%d: %v", cardID, err)
	}
	return card.Balance, nil
}

// lockCard loads one side of a transfer, naming the side on NotFound.
func (s *CardService) lockCard(ctx context.Context, tx *gorm.DB, cardID, fromID uint64) (*model.Card, error) {
	card, err := s.repo.GetCardForUpdate(ctx, tx, cardID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			side := "destination card"
			if cardID == fromID {
				side = "source card"
			}
			return nil, NotFound(side, cardID)
		}
		return nil, err
	}
	return card, nil
}

func (s *CardService) blockedStatus(ctx context.Context) (*model.CardStatus, error) {
	st, err := s.repo.GetStatusByName(ctx, model.StatusBlocked)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &StatusNotConfiguredError{Status: model.StatusBlocked}
		}
		return nil, err
	}
	return st, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *CardService) Repo() repo.RepositoryInterface {
	return s.repo
}
