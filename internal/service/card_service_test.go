package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/logger"
	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/pan"
	"github.com/cardforge/card-service/internal/repo"
)

// seqGen returns pre-baked PANs in order, repeating the last one.
type seqGen struct {
	pans []string
	i    int
}

func (g *seqGen) Generate() (string, error) {
	p := g.pans[g.i]
	if g.i < len(g.pans)-1 {
		g.i++
	}
	return p, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Customer{}, &model.OutboxEvent{}, &model.ProcessedEvent{},
		&model.User{}, &model.CardStatus{}, &model.Card{}, &model.CardBlockRequest{},
	))
	statuses := model.SeedStatuses()
	assert.NoError(t, db.Create(&statuses).Error)
	return db
}

func newCardService(t *testing.T, db *gorm.DB, gen pan.Generator) (*CardService, context.Context) {
	// cache errors are tolerated by the service, so a bare mock is enough
	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, nil, log)
	if gen == nil {
		gen = pan.NewGenerator()
	}
	svc := NewCardService(repository, gen, log, IssuanceOptions{MaxAttempts: 10, RetryDelay: time.Millisecond})
	return svc, context.Background()
}

func seedOwner(t *testing.T, db *gorm.DB, status string) uuid.UUID {
	id := uuid.New()
	assert.NoError(t, db.Create(&model.User{ID: id, Status: status}).Error)
	return id
}

func seedCard(t *testing.T, db *gorm.DB, owner uuid.UUID, number string, bal int64, statusID uint64) *model.Card {
	c := &model.Card{
		PAN:        number,
		OwnerID:    owner,
		ExpiryDate: time.Now().AddDate(3, 0, 0).Format(model.ExpiryLayout),
		StatusID:   statusID,
		Balance:    decimal.NewFromInt(bal),
	}
	assert.NoError(t, db.Create(c).Error)
	return c
}

func TestIssueCard(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)

	card, err := svc.IssueCard(ctx, owner)
	assert.NoError(t, err)
	assert.Equal(t, owner, card.OwnerID)
	assert.True(t, card.Balance.IsZero())
	assert.True(t, pan.Valid(card.PAN))

	var st model.CardStatus
	assert.NoError(t, db.First(&st, card.StatusID).Error)
	assert.Equal(t, model.StatusActive, st.Name)
}

func TestIssueCard_OwnerNotFound(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)

	_, err := svc.IssueCard(ctx, uuid.New())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, "owner", nf.Entity)
}

func TestIssueCard_DeletedOwner(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerDeleted)

	_, err := svc.IssueCard(ctx, owner)
	assert.ErrorIs(t, err, ErrOwnerDeleted)
}

func TestIssueCard_PANCollisionRecovers(t *testing.T) {
	db := newTestDB(t)
	taken := "5555555555555551"
	gen := &seqGen{pans: []string{taken, taken, "4111111111111111"}}
	svc, ctx := newCardService(t, db, gen)
	owner := seedOwner(t, db, model.CustomerActive)
	seedCard(t, db, owner, taken, 0, 1)

	card, err := svc.IssueCard(ctx, owner)
	assert.NoError(t, err)
	assert.Equal(t, "4111111111111111", card.PAN)

	// the colliding pan was never persisted a second time
	var n int64
	assert.NoError(t, db.Model(&model.Card{}).Where("pan = ?", taken).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestIssueCard_Exhausted(t *testing.T) {
	db := newTestDB(t)
	taken := "4111111111111111"
	gen := &seqGen{pans: []string{taken}}
	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, nil, log)
	svc := NewCardService(repository, gen, log, IssuanceOptions{MaxAttempts: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()

	owner := seedOwner(t, db, model.CustomerActive)
	seedCard(t, db, owner, taken, 0, 1)

	_, err := svc.IssueCard(ctx, owner)
	assert.ErrorIs(t, err, ErrIssuanceExhausted)
}

func TestTransfer_Conservation(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 100, 1)
	to := seedCard(t, db, owner, "5500005555555559", 50, 1)

	fromBal, toBal, err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(30), owner)
	assert.NoError(t, err)
	assert.Equal(t, "70", fromBal.StringFixed(0))
	assert.Equal(t, "80", toBal.StringFixed(0))
	// conservation: sum unchanged
	assert.Equal(t, "150", fromBal.Add(toBal).StringFixed(0))
}

func TestTransfer_InsufficientFundsLeavesBalancesUnchanged(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 20, 1)
	to := seedCard(t, db, owner, "5500005555555559", 50, 1)

	_, _, err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(30), owner)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var f, tt model.Card
	assert.NoError(t, db.First(&f, from.ID).Error)
	assert.NoError(t, db.First(&tt, to.ID).Error)
	assert.Equal(t, "20", f.Balance.StringFixed(0))
	assert.Equal(t, "50", tt.Balance.StringFixed(0))
}

func TestTransfer_BlockedCardExcluded(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 100, 1)
	to := seedCard(t, db, owner, "5500005555555559", 50, 2) // BLOCKED

	_, _, err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(10), owner)
	var blocked *CardBlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, to.ID, blocked.CardID)

	var f, tt model.Card
	assert.NoError(t, db.First(&f, from.ID).Error)
	assert.NoError(t, db.First(&tt, to.ID).Error)
	assert.Equal(t, "100", f.Balance.StringFixed(0))
	assert.Equal(t, "50", tt.Balance.StringFixed(0))
}

func TestTransfer_NotOwner(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	other := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 100, 1)
	to := seedCard(t, db, other, "5500005555555559", 50, 1)

	// destination belongs to someone else: both sides must be requester's
	_, _, err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(10), owner)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestTransfer_NamesMissingSide(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 100, 1)

	_, _, err := svc.Transfer(ctx, from.ID, from.ID+99, decimal.NewFromInt(10), owner)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, "destination card", nf.Entity)

	_, _, err = svc.Transfer(ctx, from.ID+99, from.ID, decimal.NewFromInt(10), owner)
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, "source card", nf.Entity)
}

func TestTransfer_InvalidAmountAndSelf(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	from := seedCard(t, db, owner, "4111111111111111", 100, 1)
	to := seedCard(t, db, owner, "5500005555555559", 50, 1)

	_, _, err := svc.Transfer(ctx, from.ID, to.ID, decimal.Zero, owner)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(-5), owner)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Transfer(ctx, from.ID, from.ID, decimal.NewFromInt(5), owner)
	assert.ErrorIs(t, err, ErrSelfTransfer)
}

func TestDepositWithdraw(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newCardService(t, db, nil)
	owner := seedOwner(t, db, model.CustomerActive)
	card := seedCard(t, db, owner, "4111111111111111", 0, 1)

	bal, err := svc.Deposit(ctx, card.ID, decimal.NewFromInt(100), owner)
	assert.NoError(t, err)
	assert.Equal(t, "100", bal.StringFixed(0))

	_, err = svc.Withdraw(ctx, card.ID, decimal.NewFromInt(130), owner)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err = svc.Withdraw(ctx, card.ID, decimal.NewFromInt(30), owner)
	assert.NoError(t, err)
	assert.Equal(t, "70", bal.StringFixed(0))

	// balance never goes negative across the sequence
	got, err := svc.GetBalance(ctx, card.ID)
	assert.NoError(t, err)
	assert.Equal(t, "70", got.StringFixed(0))
}
