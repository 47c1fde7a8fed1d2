package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"binance-scalper-go/internal/models"
)

// errInjected simulates an unreachable backing store.
var errInjected = errors.New("store unavailable")

// MemoryStore is the reference Store implementation: one mutex around
// plain maps, matching the durable implementation's semantics exactly.
// It backs tests and makes the adapter contract easy to read.
type MemoryStore struct {
	mu sync.Mutex

	coins     map[string]*models.CoinConfig
	trades    map[uint]*models.Trade
	daily     map[string]*models.DailyPnL
	cooldowns map[string]*models.CooldownEntry
	buckets   map[int64]int
	breaker   models.BreakerState
	audits    []models.BreakerAudit

	nextTradeID uint
	failReads   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store with the breaker enabled.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		coins:       make(map[string]*models.CoinConfig),
		trades:      make(map[uint]*models.Trade),
		daily:       make(map[string]*models.DailyPnL),
		cooldowns:   make(map[string]*models.CooldownEntry),
		buckets:     make(map[int64]int),
		breaker:     models.BreakerState{Active: true},
		nextTradeID: 1,
	}
}

// SeedCoin registers a coin config, for tests and tooling.
func (s *MemoryStore) SeedCoin(coin models.CoinConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := coin
	s.coins[coin.Symbol] = &c
}

// SetBreakerConfig overwrites the kill-switch parameters.
func (s *MemoryStore) SetBreakerConfig(state models.BreakerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaker = state
}

// FailReads makes every read return an error, for fail-closed tests.
func (s *MemoryStore) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// readErr reports the injected failure. Caller must hold mu.
func (s *MemoryStore) readErr() error {
	if s.failReads {
		return errInjected
	}
	return nil
}

func (s *MemoryStore) GetCoinConfig(symbol string) (*models.CoinConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	coin, ok := s.coins[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	c := *coin
	return &c, nil
}

func (s *MemoryStore) ListCoinConfigs() ([]models.CoinConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coins := make([]models.CoinConfig, 0, len(s.coins))
	for _, c := range s.coins {
		coins = append(coins, *c)
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Symbol < coins[j].Symbol })
	return coins, nil
}

func (s *MemoryStore) SetCoinActive(symbol string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coin, ok := s.coins[symbol]
	if !ok {
		return ErrNotFound
	}
	coin.Active = active
	return nil
}

func (s *MemoryStore) CreateTrade(t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextTradeID
	s.nextTradeID++
	copied := *t
	s.trades[t.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTrade(id uint) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := *trade
	return &t, nil
}

func (s *MemoryStore) OpenTrades() ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var trades []models.Trade
	for _, t := range s.trades {
		if t.Status == models.StatusOpen {
			trades = append(trades, *t)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].EntryTime.Before(trades[j].EntryTime) })
	return trades, nil
}

func (s *MemoryStore) CountOpenTrades() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return 0, err
	}
	count := 0
	for _, t := range s.trades {
		if t.Status == models.StatusOpen {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountOpenTradesBySymbol(symbol string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return 0, err
	}
	count := 0
	for _, t := range s.trades {
		if t.Status == models.StatusOpen && t.Symbol == symbol {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkTradeOpen(id uint, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return ErrNotFound
	}
	if trade.Status != models.StatusPending {
		return ErrInvalidTransition
	}
	trade.Status = models.StatusOpen
	trade.EntryOrderRef = orderRef
	return nil
}

func (s *MemoryStore) CancelTrade(id uint, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return ErrNotFound
	}
	if trade.Status != models.StatusPending && trade.Status != models.StatusOpen {
		return ErrInvalidTransition
	}
	trade.Status = models.StatusCancelled
	trade.ExitReason = reason
	exitAt := at
	trade.ExitTime = &exitAt
	return nil
}

func (s *MemoryStore) FinalizeTrade(id uint, exit TradeExit) (*models.Trade, *models.DailyPnL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if trade.Status != models.StatusOpen {
		return nil, nil, ErrInvalidTransition
	}

	price := exit.Price
	exitAt := exit.Time
	trade.Status = exit.Status
	trade.ExitPrice = &price
	trade.ExitTime = &exitAt
	trade.ExitReason = exit.Reason
	trade.ExitOrderRef = exit.OrderRef
	trade.Pnl = exit.Pnl
	trade.PnlFraction = exit.PnlFraction

	daily := s.dailyLocked(models.TradeDate(exit.Time))
	daily.TotalPnl += exit.Pnl
	daily.TotalTrades++
	if exit.Pnl > 0 {
		daily.WinningTrades++
	} else if exit.Pnl < 0 {
		daily.LosingTrades++
	}

	t := *trade
	d := *daily
	return &t, &d, nil
}

// dailyLocked returns the date's aggregate, creating it lazily.
// Caller must hold mu.
func (s *MemoryStore) dailyLocked(date string) *models.DailyPnL {
	daily, ok := s.daily[date]
	if !ok {
		daily = &models.DailyPnL{Date: date}
		s.daily[date] = daily
	}
	return daily
}

func (s *MemoryStore) GetDailyPnL(date string) (*models.DailyPnL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	daily, ok := s.daily[date]
	if !ok {
		return nil, ErrNotFound
	}
	d := *daily
	return &d, nil
}

func (s *MemoryStore) RecentDailyPnL(days int) ([]models.DailyPnL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]models.DailyPnL, 0, len(s.daily))
	for _, d := range s.daily {
		rows = append(rows, *d)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })
	if len(rows) > days {
		rows = rows[:days]
	}
	return rows, nil
}

func (s *MemoryStore) TripDailyBreaker(date string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	daily := s.dailyLocked(date)
	if daily.BreakerActive {
		return false, nil
	}
	activatedAt := at
	daily.BreakerActive = true
	daily.BreakerActivatedAt = &activatedAt
	s.audits = append(s.audits, models.BreakerAudit{
		Action:   models.BreakerActionTrip,
		Date:     date,
		Actor:    "engine",
		Reason:   "daily loss limit reached",
		ActionAt: at,
	})
	return true, nil
}

func (s *MemoryStore) ResetDailyBreaker(date, actor, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	daily, ok := s.daily[date]
	if !ok {
		return ErrNotFound
	}
	daily.BreakerActive = false
	s.audits = append(s.audits, models.BreakerAudit{
		Action:   models.BreakerActionReset,
		Date:     date,
		Actor:    actor,
		Reason:   reason,
		ActionAt: at,
	})
	return nil
}

func (s *MemoryStore) GetBreakerState() (*models.BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	state := s.breaker
	return &state, nil
}

func (s *MemoryStore) SetBreakerActive(active bool, actor, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action := models.BreakerActionHalt
	if active {
		action = models.BreakerActionReset
	}
	s.breaker.Active = active
	s.audits = append(s.audits, models.BreakerAudit{
		Action:   action,
		Actor:    actor,
		Reason:   reason,
		ActionAt: at,
	})
	return nil
}

// Audits returns recorded breaker mutations, newest last.
func (s *MemoryStore) Audits() []models.BreakerAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BreakerAudit, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemoryStore) GetCooldown(symbol string) (*models.CooldownEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return nil, err
	}
	entry, ok := s.cooldowns[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	e := *entry
	return &e, nil
}

func (s *MemoryStore) UpsertCooldown(symbol string, lastTrade, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[symbol] = &models.CooldownEntry{
		Symbol:        symbol,
		LastTradeTime: lastTrade,
		CooldownUntil: until,
	}
	return nil
}

func (s *MemoryStore) IncrementRateBucket(minute int64, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr(); err != nil {
		return false, err
	}
	if s.buckets[minute] >= max {
		return false, nil
	}
	s.buckets[minute]++
	return true, nil
}

func (s *MemoryStore) PurgeRateBuckets(before int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for minute := range s.buckets {
		if minute < before {
			delete(s.buckets, minute)
		}
	}
	return nil
}
