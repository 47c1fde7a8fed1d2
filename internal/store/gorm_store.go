package store

import (
	"errors"
	"fmt"
	"time"

	"binance-scalper-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the durable Store implementation. All conditional
// updates are expressed as single UPDATE ... WHERE statements so the
// database, not the process, arbitrates races.
type GormStore struct {
	db *gorm.DB
}

// ensure GormStore implements the interface
var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open database connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetCoinConfig(symbol string) (*models.CoinConfig, error) {
	var coin models.CoinConfig
	if err := s.db.Where("symbol = ?", symbol).First(&coin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load coin config for %s: %w", symbol, err)
	}
	return &coin, nil
}

func (s *GormStore) ListCoinConfigs() ([]models.CoinConfig, error) {
	var coins []models.CoinConfig
	if err := s.db.Order("symbol").Find(&coins).Error; err != nil {
		return nil, fmt.Errorf("failed to list coin configs: %w", err)
	}
	return coins, nil
}

func (s *GormStore) SetCoinActive(symbol string, active bool) error {
	res := s.db.Model(&models.CoinConfig{}).Where("symbol = ?", symbol).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update coin %s: %w", symbol, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateTrade(t *models.Trade) error {
	if err := s.db.Create(t).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (s *GormStore) GetTrade(id uint) (*models.Trade, error) {
	var trade models.Trade
	if err := s.db.First(&trade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load trade %d: %w", id, err)
	}
	return &trade, nil
}

func (s *GormStore) OpenTrades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Where("status = ?", models.StatusOpen).Order("entry_time").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	return trades, nil
}

func (s *GormStore) CountOpenTrades() (int, error) {
	var count int64
	if err := s.db.Model(&models.Trade{}).Where("status = ?", models.StatusOpen).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count open trades: %w", err)
	}
	return int(count), nil
}

func (s *GormStore) CountOpenTradesBySymbol(symbol string) (int, error) {
	var count int64
	err := s.db.Model(&models.Trade{}).
		Where("status = ? AND symbol = ?", models.StatusOpen, symbol).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open trades for %s: %w", symbol, err)
	}
	return int(count), nil
}

func (s *GormStore) MarkTradeOpen(id uint, orderRef string) error {
	res := s.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":          models.StatusOpen,
			"entry_order_ref": orderRef,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to open trade %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.transitionFailure(id)
	}
	return nil
}

func (s *GormStore) CancelTrade(id uint, reason string, at time.Time) error {
	res := s.db.Model(&models.Trade{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusPending, models.StatusOpen}).
		Updates(map[string]interface{}{
			"status":      models.StatusCancelled,
			"exit_reason": reason,
			"exit_time":   at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel trade %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.transitionFailure(id)
	}
	return nil
}

func (s *GormStore) FinalizeTrade(id uint, exit TradeExit) (*models.Trade, *models.DailyPnL, error) {
	var trade models.Trade
	var daily models.DailyPnL

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// The WHERE status = OPEN guard makes terminal trades immutable:
		// a second close attempt affects zero rows.
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", id, models.StatusOpen).
			Updates(map[string]interface{}{
				"status":         exit.Status,
				"exit_price":     exit.Price,
				"exit_time":      exit.Time,
				"exit_reason":    exit.Reason,
				"exit_order_ref": exit.OrderRef,
				"pnl":            exit.Pnl,
				"pnl_fraction":   exit.PnlFraction,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&models.Trade{}, id).Error; errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return ErrInvalidTransition
		}

		date := models.TradeDate(exit.Time)
		if err := tx.FirstOrCreate(&daily, models.DailyPnL{Date: date}).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"total_pnl":    gorm.Expr("total_pnl + ?", exit.Pnl),
			"total_trades": gorm.Expr("total_trades + 1"),
		}
		if exit.Pnl > 0 {
			updates["winning_trades"] = gorm.Expr("winning_trades + 1")
		} else if exit.Pnl < 0 {
			updates["losing_trades"] = gorm.Expr("losing_trades + 1")
		}
		if err := tx.Model(&models.DailyPnL{}).Where("date = ?", date).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.First(&trade, id).Error; err != nil {
			return err
		}
		return tx.Where("date = ?", date).First(&daily).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to finalize trade %d: %w", id, err)
	}
	return &trade, &daily, nil
}

// transitionFailure distinguishes a missing trade from a stale status
// after a conditional update matched no rows.
func (s *GormStore) transitionFailure(id uint) error {
	if err := s.db.First(&models.Trade{}, id).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *GormStore) GetDailyPnL(date string) (*models.DailyPnL, error) {
	var daily models.DailyPnL
	if err := s.db.Where("date = ?", date).First(&daily).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load daily pnl for %s: %w", date, err)
	}
	return &daily, nil
}

func (s *GormStore) RecentDailyPnL(days int) ([]models.DailyPnL, error) {
	var rows []models.DailyPnL
	if err := s.db.Order("date desc").Limit(days).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load daily pnl history: %w", err)
	}
	return rows, nil
}

func (s *GormStore) TripDailyBreaker(date string, at time.Time) (bool, error) {
	var flipped bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		daily := models.DailyPnL{Date: date}
		if err := tx.FirstOrCreate(&daily, models.DailyPnL{Date: date}).Error; err != nil {
			return err
		}
		res := tx.Model(&models.DailyPnL{}).
			Where("date = ? AND breaker_active = ?", date, false).
			Updates(map[string]interface{}{
				"breaker_active":       true,
				"breaker_activated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		flipped = res.RowsAffected == 1
		if flipped {
			audit := models.BreakerAudit{
				Action:   models.BreakerActionTrip,
				Date:     date,
				Actor:    "engine",
				Reason:   "daily loss limit reached",
				ActionAt: at,
			}
			return tx.Create(&audit).Error
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to trip breaker for %s: %w", date, err)
	}
	return flipped, nil
}

func (s *GormStore) ResetDailyBreaker(date, actor, reason string, at time.Time) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DailyPnL{}).
			Where("date = ?", date).
			Update("breaker_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		audit := models.BreakerAudit{
			Action:   models.BreakerActionReset,
			Date:     date,
			Actor:    actor,
			Reason:   reason,
			ActionAt: at,
		}
		return tx.Create(&audit).Error
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to reset breaker for %s: %w", date, err)
	}
	return nil
}

func (s *GormStore) GetBreakerState() (*models.BreakerState, error) {
	var state models.BreakerState
	if err := s.db.First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load breaker state: %w", err)
	}
	return &state, nil
}

func (s *GormStore) SetBreakerActive(active bool, actor, reason string, at time.Time) error {
	action := models.BreakerActionHalt
	if active {
		action = models.BreakerActionReset
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var state models.BreakerState
		if err := tx.First(&state).Error; err != nil {
			return err
		}
		if err := tx.Model(&state).Update("active", active).Error; err != nil {
			return err
		}
		audit := models.BreakerAudit{
			Action:   action,
			Actor:    actor,
			Reason:   reason,
			ActionAt: at,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return fmt.Errorf("failed to set breaker active=%v: %w", active, err)
	}
	return nil
}

func (s *GormStore) GetCooldown(symbol string) (*models.CooldownEntry, error) {
	var entry models.CooldownEntry
	if err := s.db.Where("symbol = ?", symbol).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load cooldown for %s: %w", symbol, err)
	}
	return &entry, nil
}

func (s *GormStore) UpsertCooldown(symbol string, lastTrade, until time.Time) error {
	entry := models.CooldownEntry{
		Symbol:        symbol,
		LastTradeTime: lastTrade,
		CooldownUntil: until,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_trade_time", "cooldown_until", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cooldown for %s: %w", symbol, err)
	}
	return nil
}

func (s *GormStore) IncrementRateBucket(minute int64, max int) (bool, error) {
	var allowed bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		bucket := models.RateLimitBucket{MinuteTimestamp: minute}
		if err := tx.FirstOrCreate(&bucket, models.RateLimitBucket{MinuteTimestamp: minute}).Error; err != nil {
			return err
		}
		// Test-and-increment in one statement. A concurrent caller that
		// would push the count past max matches zero rows.
		res := tx.Model(&models.RateLimitBucket{}).
			Where("minute_timestamp = ? AND request_count < ?", minute, max).
			Update("request_count", gorm.Expr("request_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		allowed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment rate bucket %d: %w", minute, err)
	}
	return allowed, nil
}

func (s *GormStore) PurgeRateBuckets(before int64) error {
	err := s.db.Unscoped().
		Where("minute_timestamp < ?", before).
		Delete(&models.RateLimitBucket{}).Error
	if err != nil {
		return fmt.Errorf("failed to purge rate buckets: %w", err)
	}
	return nil
}
