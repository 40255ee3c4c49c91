package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardforge/card-service/internal/model"
)

// ErrVersionConflict is returned when an optimistic update matched no row.
var ErrVersionConflict = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods so services can be unit-tested
// against a mock.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetCardForUpdate(ctx context.Context, tx *gorm.DB, cardID uint64) (*model.Card, error)
	CreateCard(ctx context.Context, tx *gorm.DB, c *model.Card) error
	UpdateCardBalance(ctx context.Context, tx *gorm.DB, cardID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	UpdateCardStatus(ctx context.Context, tx *gorm.DB, cardID uint64, statusID, oldVersion uint64) error

	GetStatusByName(ctx context.Context, name string) (*model.CardStatus, error)

	GetUser(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.User, error)
	UpsertUser(ctx context.Context, tx *gorm.DB, u *model.User) error

	EventProcessed(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) (bool, error)
	CreateProcessedEvent(ctx context.Context, tx *gorm.DB, pe *model.ProcessedEvent) error

	CountPendingBlockRequests(ctx context.Context, tx *gorm.DB, cardID uint64) (int64, error)
	CreateBlockRequest(ctx context.Context, tx *gorm.DB, req *model.CardBlockRequest) error
	GetPendingBlockRequestForUpdate(ctx context.Context, tx *gorm.DB, cardID uint64) (*model.CardBlockRequest, error)
	ResolveBlockRequest(ctx context.Context, tx *gorm.DB, reqID uint64, status string, adminID uuid.UUID, at time.Time) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, cardID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, cardID uint64) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// IsDuplicate reports whether err is a uniqueness-constraint violation.
// Covers gorm's translated error plus the raw postgres/sqlite message for
// connections opened without translation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

// GetCardForUpdate locks the card row for the enclosing transaction.
func (r *Repository) GetCardForUpdate(ctx context.Context, tx *gorm.DB, cardID uint64) (*model.Card, error) {
	var c model.Card
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cardID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCard inserts a card; uniqueness violations on pan surface to the
// caller for the issuance retry loop.
func (r *Repository) CreateCard(ctx context.Context, tx *gorm.DB, c *model.Card) error {
	return tx.WithContext(ctx).Create(c).Error
}

// UpdateCardBalance with optimistic lock.
func (r *Repository) UpdateCardBalance(ctx context.Context, tx *gorm.DB, cardID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Card{}).
		Where("id = ? AND version = ?", cardID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateCardStatus with optimistic lock.
func (r *Repository) UpdateCardStatus(ctx context.Context, tx *gorm.DB, cardID uint64, statusID, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Card{}).
		Where("id = ? AND version = ?", cardID, oldVersion).
		Updates(map[string]interface{}{
			"status_id":  statusID,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// GetStatusByName resolves a lookup row.
func (r *Repository) GetStatusByName(ctx context.Context, name string) (*model.CardStatus, error) {
	var st model.CardStatus
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// GetUser reads the identity projection.
func (r *Repository) GetUser(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser applies insert-or-update semantics; a redelivered "created"
// event must not fail on an existing row.
func (r *Repository) UpsertUser(ctx context.Context, tx *gorm.DB, u *model.User) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "synced_at"}),
		}).
		Create(u).Error
}

// EventProcessed checks the dedup ledger inside the caller's transaction.
func (r *Repository) EventProcessed(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) (bool, error) {
	var pe model.ProcessedEvent
	err := tx.WithContext(ctx).Where("event_id = ?", eventID).First(&pe).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// CreateProcessedEvent records an applied event id.
func (r *Repository) CreateProcessedEvent(ctx context.Context, tx *gorm.DB, pe *model.ProcessedEvent) error {
	return tx.WithContext(ctx).Create(pe).Error
}

// CountPendingBlockRequests counts open requests for a card.
func (r *Repository) CountPendingBlockRequests(ctx context.Context, tx *gorm.DB, cardID uint64) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.CardBlockRequest{}).
		Where("card_id = ? AND status = ?", cardID, model.BlockPending).
		Count(&n).Error
	return n, err
}

// CreateBlockRequest inserts a PENDING row.
func (r *Repository) CreateBlockRequest(ctx context.Context, tx *gorm.DB, req *model.CardBlockRequest) error {
	return tx.WithContext(ctx).Create(req).Error
}

// GetPendingBlockRequestForUpdate locks the unique PENDING request for a card.
func (r *Repository) GetPendingBlockRequestForUpdate(ctx context.Context, tx *gorm.DB, cardID uint64) (*model.CardBlockRequest, error) {
	var req model.CardBlockRequest
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("card_id = ? AND status = ?", cardID, model.BlockPending).
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// ResolveBlockRequest flips a PENDING row to its terminal status.
func (r *Repository) ResolveBlockRequest(ctx context.Context, tx *gorm.DB, reqID uint64, status string, adminID uuid.UUID, at time.Time) error {
	return tx.WithContext(ctx).Model(&model.CardBlockRequest{}).
		Where("id = ? AND status = ?", reqID, model.BlockPending).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_at": &at,
			"processed_by": &adminID,
		}).Error
}

// CreateOutboxEvent writes an event row; valid only inside the transaction
// that performs the aggregate mutation it describes.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events in insertion order.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// envelope mirrors the change-feed wire format the consumer reads.
type envelope struct {
	Payload struct {
		After map[string]interface{} `json:"after"`
	} `json:"payload"`
}

// PublishEvent sends the outbox row to Kafka in the change-feed envelope.
// Key is the aggregate id so per-aggregate order survives partitioning.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	var env envelope
	env.Payload.After = map[string]interface{}{
		"id":           evt.ID.String(),
		"aggregate_id": evt.AggregateID,
		"event_type":   evt.EventType,
		"payload":      json.RawMessage(evt.Payload),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: body,
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, cardID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("card:balance:%d", cardID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, cardID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("card:balance:%d", cardID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
