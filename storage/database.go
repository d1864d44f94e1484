package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Order/trade/round persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// Postgres when DATABASE_URL is set, embedded SQLite when a path is given,
// disabled otherwise. Writes never sit on the round critical path: failures
// are logged and dropped.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db      *gorm.DB
	enabled bool
}

// Models

type OrderRow struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	Model      string `gorm:"index"`
	Symbol     string
	Action     string
	Size       decimal.Decimal `gorm:"type:decimal(24,10)"`
	Price      decimal.Decimal `gorm:"type:decimal(24,10)"`
	Notional   decimal.Decimal `gorm:"type:decimal(24,10)"`
	Commission decimal.Decimal `gorm:"type:decimal(24,10)"`
	Status     string          `gorm:"index"`
	Reason     string
	CreatedAt  time.Time
}

type TradeRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index"`
	OrderID   string `gorm:"index"`
	Model     string `gorm:"index"`
	Symbol    string
	Action    string
	Size      decimal.Decimal `gorm:"type:decimal(24,10)"`
	Price     decimal.Decimal `gorm:"type:decimal(24,10)"`
	PnL       decimal.Decimal `gorm:"type:decimal(24,10)"`
	Timestamp time.Time
	CreatedAt time.Time
}

type RoundRow struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"index"`
	Round           int
	Executed        int
	Rejected        int
	Leader          string
	LeaderReturnPct float64
	DurationMS      int64
	CreatedAt       time.Time
}

// New opens the configured backend. Both arguments empty means persistence
// is off and every write is a no-op.
func New(databaseURL, databasePath string) (*Database, error) {
	var db *gorm.DB
	var err error

	switch {
	case databaseURL != "":
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")

	case databasePath != "":
		if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(databasePath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", databasePath).Msg("💾 Database initialized (SQLite)")

	default:
		log.Warn().Msg("No DATABASE_URL or DATABASE_PATH, running without database")
		return &Database{}, nil
	}

	if err := db.AutoMigrate(&OrderRow{}, &TradeRow{}, &RoundRow{}); err != nil {
		return nil, err
	}
	return &Database{db: db, enabled: true}, nil
}

// LogOrder persists one execution attempt.
func (d *Database) LogOrder(sessionID string, o types.Order) {
	if d == nil || !d.enabled {
		return
	}
	row := OrderRow{
		ID: o.ID, SessionID: sessionID, Model: o.Model, Symbol: o.Symbol,
		Action: o.Action, Size: o.Size, Price: o.Price, Notional: o.Notional,
		Commission: o.Commission, Status: o.Status, Reason: o.Reason,
		CreatedAt: o.CreatedAt,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("Failed to log order")
	}
}

// LogTrade persists one fill.
func (d *Database) LogTrade(sessionID string, t types.Trade) {
	if d == nil || !d.enabled {
		return
	}
	row := TradeRow{
		SessionID: sessionID, OrderID: t.OrderID, Model: t.Model,
		Symbol: t.Symbol, Action: t.Action, Size: t.Size, Price: t.Price,
		PnL: t.PnL, Timestamp: t.Timestamp,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("order_id", t.OrderID).Msg("Failed to log trade")
	}
}

// LogRound persists one completed round summary.
func (d *Database) LogRound(sessionID string, rec types.RoundRecord) {
	if d == nil || !d.enabled {
		return
	}
	row := RoundRow{
		SessionID: sessionID, Round: rec.Round,
		Executed: rec.TotalExecuted(), Rejected: rec.TotalRejected(),
		DurationMS: rec.DurationMS,
	}
	if len(rec.Leaderboard) > 0 {
		row.Leader = rec.Leaderboard[0].Model
		row.LeaderReturnPct = rec.Leaderboard[0].ReturnPct
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Int("round", rec.Round).Msg("Failed to log round")
	}
}

// GetRecentTrades returns the newest fills, newest first.
func (d *Database) GetRecentTrades(limit int) ([]TradeRow, error) {
	if d == nil || !d.enabled {
		return nil, nil
	}
	var rows []TradeRow
	err := d.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// IsEnabled reports whether a backend is connected.
func (d *Database) IsEnabled() bool {
	return d != nil && d.enabled
}

// Close closes the underlying connection.
func (d *Database) Close() {
	if d == nil || !d.enabled {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
