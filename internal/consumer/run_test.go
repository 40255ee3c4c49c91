package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/logger"
	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/repo"
)

// groupFetcher hands out queued messages and tracks commits the way a
// consumer group does: a cumulative watermark where committing an offset
// marks everything below it consumed.
type groupFetcher struct {
	msgs      []kafka.Message
	watermark int64
}

func (f *groupFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *groupFetcher) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if m.Offset+1 > f.watermark {
			f.watermark = m.Offset + 1
		}
	}
	return nil
}

// flakyRepo fails the dedup check for one event a set number of times,
// modeling a transient store outage.
type flakyRepo struct {
	repo.RepositoryInterface
	failID   uuid.UUID
	failures int
}

func (f *flakyRepo) EventProcessed(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) (bool, error) {
	if eventID == f.failID && f.failures > 0 {
		f.failures--
		return false, errors.New("projection store unavailable")
	}
	return f.RepositoryInterface.EventProcessed(ctx, tx, eventID)
}

func fastRetries(t *testing.T) {
	base, max := retryBase, retryCap
	retryBase, retryCap = time.Millisecond, 4*time.Millisecond
	t.Cleanup(func() { retryBase, retryCap = base, max })
}

func TestRun_CommitsOnlyProcessedMessages(t *testing.T) {
	p, db, _ := newProcessor(t)
	log, _ := logger.NewLogger()

	f := &groupFetcher{msgs: []kafka.Message{
		{Offset: 1, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerCreated, "ACTIVE")},
		{Offset: 2, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerUpdated, "SUSPENDED")},
	}}

	assert.NoError(t, Run(context.Background(), f, p, log))
	assert.EqualValues(t, 3, f.watermark)
	assert.EqualValues(t, 2, countRows(t, db, &model.ProcessedEvent{}))
}

func TestRun_RetriesFailingMessageInPlace(t *testing.T) {
	fastRetries(t)
	_, db, _ := newProcessor(t)
	log, _ := logger.NewLogger()
	flakyEvent := uuid.New()
	p := NewProcessor(&flakyRepo{
		RepositoryInterface: repo.NewRepository(db, nil, nil, log),
		failID:              flakyEvent,
		failures:            2,
	}, log)

	f := &groupFetcher{msgs: []kafka.Message{
		{Offset: 1, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerCreated, "ACTIVE")},
		{Offset: 2, Value: feedMessage(flakyEvent, uuid.New(), model.EventCustomerCreated, "ACTIVE")},
		{Offset: 3, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerUpdated, "SUSPENDED")},
	}}

	// the transient failure is absorbed by in-place retries: every message
	// lands and the watermark covers all of them
	assert.NoError(t, Run(context.Background(), f, p, log))
	assert.EqualValues(t, 4, f.watermark)
	assert.EqualValues(t, 3, countRows(t, db, &model.ProcessedEvent{}))
}

func TestRun_FailingMessageHoldsTheWatermark(t *testing.T) {
	fastRetries(t)
	p, db, _ := newProcessor(t)
	log, _ := logger.NewLogger()

	f := &groupFetcher{msgs: []kafka.Message{
		{Offset: 1, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerCreated, "ACTIVE")},
		{Offset: 2, Value: []byte(`{"payload":`)}, // never parses
		{Offset: 3, Value: feedMessage(uuid.New(), uuid.New(), model.EventCustomerUpdated, "SUSPENDED")},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, Run(ctx, f, p, log))

	// the broken message blocks the partition: the watermark never moves
	// past it, so a restart redelivers it instead of losing it
	assert.EqualValues(t, 2, f.watermark)
	assert.EqualValues(t, 1, countRows(t, db, &model.ProcessedEvent{}))
}
