package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/logger"
	"github.com/cardforge/card-service/internal/model"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.CardStatus{}, &model.Card{}))
	statuses := model.SeedStatuses()
	assert.NoError(t, db.Create(&statuses).Error)
	return NewRepository(db, nil, nil, must(logger.NewLogger())), db
}

func TestOptimisticLock_StaleVersionRejected(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	card := &model.Card{
		PAN:        "4111111111111111",
		OwnerID:    uuid.New(),
		ExpiryDate: "2030-01",
		StatusID:   1,
		Balance:    decimal.NewFromInt(100),
	}
	assert.NoError(t, db.Create(card).Error)

	// two writers read version 0; only the first update lands
	assert.NoError(t, repo.UpdateCardBalance(ctx, db, card.ID, decimal.NewFromInt(110), 0))
	err := repo.UpdateCardBalance(ctx, db, card.ID, decimal.NewFromInt(120), 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	var final model.Card
	assert.NoError(t, db.First(&final, card.ID).Error)
	assert.Equal(t, "110", final.Balance.StringFixed(0))
	assert.EqualValues(t, 1, final.Version)
}

func TestUpdateCardStatus_OptimisticLock(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	card := &model.Card{
		PAN:        "5500005555555559",
		OwnerID:    uuid.New(),
		ExpiryDate: "2030-01",
		StatusID:   1,
		Balance:    decimal.Zero,
	}
	assert.NoError(t, db.Create(card).Error)

	assert.NoError(t, repo.UpdateCardStatus(ctx, db, card.ID, 2, 0))
	assert.ErrorIs(t, repo.UpdateCardStatus(ctx, db, card.ID, 1, 0), ErrVersionConflict)

	var final model.Card
	assert.NoError(t, db.First(&final, card.ID).Error)
	assert.EqualValues(t, 2, final.StatusID)
}

func TestIsDuplicate(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	card := &model.Card{PAN: "4012888888881881", OwnerID: uuid.New(), ExpiryDate: "2030-01", StatusID: 1, Balance: decimal.Zero}
	assert.NoError(t, repo.CreateCard(ctx, db, card))

	dup := &model.Card{PAN: "4012888888881881", OwnerID: uuid.New(), ExpiryDate: "2030-01", StatusID: 1, Balance: decimal.Zero}
	err := repo.CreateCard(ctx, db, dup)
	assert.Error(t, err)
	assert.True(t, IsDuplicate(err))

	assert.False(t, IsDuplicate(nil))
	assert.False(t, IsDuplicate(gorm.ErrRecordNotFound))
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}
