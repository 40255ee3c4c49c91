package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/repo"
)

// Fetcher is the slice of kafka.Reader the consumer needs; manual commits
// keep redelivery available for failed messages.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor applies customer events to the identity projection exactly once
// per logical event id, no matter how often the feed redelivers them.
type Processor struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewProcessor returns Processor.
func NewProcessor(r repo.RepositoryInterface, logger *zap.SugaredLogger) *Processor {
	return &Processor{repo: r, log: logger}
}

// Process handles one raw feed message. A nil return means the message is
// done with (applied, duplicate, or deliberately discarded) and its offset
// may be committed. An error return means nothing was recorded and the
// message is safe to redeliver.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	rec, err := parseRecord(body)
	if err != nil {
		return err
	}

	switch rec.EventType {
	case model.EventCustomerCreated, model.EventCustomerUpdated, model.EventCustomerDeleted:
	default:
		// not an event this consumer acts on; steady-state, not an error
		if rec.EventType != "" {
			p.log.Debugf("ignoring event type %q", rec.EventType)
		}
		return nil
	}

	eventID, err := logicalID(rec)
	if err != nil {
		return err
	}

	return p.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		// dedup check and apply share the transaction, closing the race
		// between check and write
		done, err := p.repo.EventProcessed(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if done {
			p.log.Infof("event %s already processed, skipping", eventID)
			return nil
		}

		if err := p.apply(ctx, tx, rec); err != nil {
			return err
		}

		return p.repo.CreateProcessedEvent(ctx, tx, &model.ProcessedEvent{
			EventID:     eventID,
			AggregateID: rec.AggregateID,
			EventType:   rec.EventType,
		})
	})
}

// apply mutates the projection for one accepted event.
func (p *Processor) apply(ctx context.Context, tx *gorm.DB, rec *eventRecord) error {
	raw, err := domainPayload(rec.Payload)
	if err != nil {
		return err
	}
	var body struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("decode customer payload: %w", err)
	}
	if body.ID == uuid.Nil {
		return errors.New("customer payload missing id")
	}

	u := &model.User{ID: body.ID, Status: body.Status}
	if rec.EventType == model.EventCustomerDeleted {
		// keep a tombstone so late or out-of-order events still find the row
		u.Status = model.CustomerDeleted
	}
	if u.Status == "" {
		u.Status = model.CustomerActive
	}
	return p.repo.UpsertUser(ctx, tx, u)
}

// logicalID resolves the event identity: the outbox row id, or the aggregate
// id when the primary id is absent.
func logicalID(rec *eventRecord) (uuid.UUID, error) {
	if rec.ID != "" {
		id, err := uuid.Parse(rec.ID)
		if err == nil {
			return id, nil
		}
	}
	id, err := uuid.Parse(rec.AggregateID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("no usable event identity (id=%q aggregate_id=%q)", rec.ID, rec.AggregateID)
	}
	return id, nil
}

// retry pacing for messages that fail to process
var (
	retryBase = time.Second
	retryCap  = 30 * time.Second
)

// Run consumes the feed until ctx is cancelled. Group commits are a
// cumulative per-partition watermark, so committing past a failed message
// would discard it permanently; instead a failing message is retried in
// place with backoff, holding the partition, and its offset commits only
// once Process returns nil.
func Run(ctx context.Context, r Fetcher, p *Processor, log *zap.SugaredLogger) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		delay := retryBase
		for {
			err := p.Process(ctx, msg.Value)
			if err == nil {
				break
			}
			log.Errorf("process message partition=%d offset=%d, retrying in %s: %v",
				msg.Partition, msg.Offset, delay, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			if delay *= 2; delay > retryCap {
				delay = retryCap
			}
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			log.Errorf("commit offset=%d: %v", msg.Offset, err)
		}
	}
}
