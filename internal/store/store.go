// Package store persists engine state: positions, trades, round results, and
// the risk snapshot, one row per record keyed by stream. SQLite file by
// default, PostgreSQL when the path is a connection URL. Writes are
// synchronous so a crash between save and next tick loses nothing.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// Models

// PositionRecord is one dual-sided position, keyed by market slug. Status
// mirrors the in-memory lifecycle so a restart can re-partition open and
// finished positions.
type PositionRecord struct {
	Slug        string `gorm:"primaryKey"`
	Stream      string `gorm:"index"` // timeframe label, e.g. "15m"
	WindowTS    int64  `gorm:"index"`
	ConditionID string
	Question    string
	UpToken     string
	DownToken   string
	NegRisk     bool
	Status      string          `gorm:"index"`
	EntryPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size        decimal.Decimal `gorm:"type:decimal(20,6)"` // shares per side
	UpOrderID   string
	DownOrderID string
	UpFilled    decimal.Decimal `gorm:"type:decimal(20,6)"`
	DownFilled  decimal.Decimal `gorm:"type:decimal(20,6)"`
	Cost        decimal.Decimal `gorm:"type:decimal(20,6)"` // filled cost, USD
	Recovered   decimal.Decimal `gorm:"type:decimal(20,6)"` // bail-out proceeds estimate
	Redeemed    decimal.Decimal `gorm:"type:decimal(20,6)"` // redemption payout
	PnL         decimal.Decimal `gorm:"type:decimal(20,6)"`
	RedeemTxID  string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TradeRecord is one order placement or exit, append-only.
type TradeRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Stream    string `gorm:"index"`
	Slug      string `gorm:"index"`
	TokenID   string
	Side      string // BUY or SELL
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size      decimal.Decimal `gorm:"type:decimal(20,6)"`
	OrderID   string
	Kind      string // "entry", "bailout"
	CreatedAt time.Time
}

// RoundRecord is the outcome of one finished position.
type RoundRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Stream    string `gorm:"index"`
	Slug      string `gorm:"index"`
	Outcome   string // "win", "loss", "flat"
	PnL       decimal.Decimal `gorm:"type:decimal(20,6)"`
	FeePaid   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Bailed    bool
	CreatedAt time.Time
}

// RiskStateRecord is the durable breaker flag, one row per stream. It
// survives restarts; the loss counters are rebuilt from the day's rounds
// instead of being persisted here.
type RiskStateRecord struct {
	Stream           string `gorm:"primaryKey"`
	CircuitBreakerOn bool
	BreakerReason    string
	UpdatedAt        time.Time
}

// New opens the store and migrates the schema.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(&PositionRecord{}, &TradeRecord{}, &RoundRecord{}, &RiskStateRecord{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Position operations

func (s *Store) SavePosition(p *PositionRecord) error {
	return s.db.Save(p).Error
}

// OpenPositions returns a stream's positions still in flight, oldest window
// first.
func (s *Store) OpenPositions(stream string, openStatuses []string) ([]PositionRecord, error) {
	var out []PositionRecord
	err := s.db.
		Where("stream = ? AND status IN ?", stream, openStatuses).
		Order("window_ts ASC").
		Find(&out).Error
	return out, err
}

// Trade operations

func (s *Store) SaveTrade(t *TradeRecord) error {
	return s.db.Create(t).Error
}

// Round operations

func (s *Store) SaveRound(r *RoundRecord) error {
	return s.db.Create(r).Error
}

// RoundsSince returns a stream's rounds created at or after the cutoff,
// oldest first. Replayed at startup to rebuild the day's loss counters.
func (s *Store) RoundsSince(stream string, cutoff time.Time) ([]RoundRecord, error) {
	var out []RoundRecord
	err := s.db.
		Where("stream = ? AND created_at >= ?", stream, cutoff).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// Risk state operations

func (s *Store) SaveRiskState(r *RiskStateRecord) error {
	return s.db.Save(r).Error
}

func (s *Store) LoadRiskState(stream string) (*RiskStateRecord, error) {
	var r RiskStateRecord
	err := s.db.First(&r, "stream = ?", stream).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &r, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
