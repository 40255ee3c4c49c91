package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/model"
)

// Config controls sweep cadence.
type Config struct {
	Interval time.Duration
}

// Sweeper transitions cards past their validity window to EXPIRED on a fixed
// schedule. It operates directly on storage, independent of the event flow.
type Sweeper struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	expiredID uint64
	interval  time.Duration
	now       func() time.Time
}

// New resolves the EXPIRED lookup row up front: a missing row is a
// deployment defect and fails construction, not individual runs.
func New(db *gorm.DB, logger *zap.SugaredLogger, cfg Config) (*Sweeper, error) {
	var st model.CardStatus
	if err := db.Where("name = ?", model.StatusExpired).First(&st).Error; err != nil {
		return nil, fmt.Errorf("resolve %s status: %w", model.StatusExpired, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{db: db, log: logger, expiredID: st.ID, interval: interval, now: time.Now}, nil
}

// Run sweeps on the configured ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Infof("expiry sweeper started, interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Errorf("expiry sweep: %v", err)
			} else if n > 0 {
				s.log.Infof("expired %d card(s)", n)
			}
		}
	}
}

// Sweep expires every card whose expiry month is the current month and that
// is not already EXPIRED. The status filter makes re-runs free: once a
// month's cards are swept the query matches zero rows.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	month := s.now().Format(model.ExpiryLayout)
	res := s.db.WithContext(ctx).Model(&model.Card{}).
		Where("expiry_date = ? AND status_id <> ?", month, s.expiredID).
		Updates(map[string]interface{}{
			"status_id":  s.expiredID,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
