package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwtly10/barsim/internal/account"
	"github.com/jwtly10/barsim/internal/backtest"
	"github.com/jwtly10/barsim/internal/dataset"
	"github.com/jwtly10/barsim/internal/types"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const batchSize = 500

var _ dataset.BarSource = (*Repository)(nil)

type Repository struct {
	db *gorm.DB
}

// Open connects to postgres at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the bars and snapshots tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&BarRecord{}, &SnapshotRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// SaveBars upserts bars of symbol, replacing prices already stored for the
// same timestamp.
func (r *Repository) SaveBars(ctx context.Context, symbol string, bars []types.Bar) error {
	if symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if len(bars) == 0 {
		return nil
	}

	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			AdjOpen:   b.AdjOpen,
			AdjHigh:   b.AdjHigh,
			AdjLow:    b.AdjLow,
			AdjClose:  b.AdjClose,
			Volume:    b.Volume,
		}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "adj_open", "adj_high", "adj_low", "adj_close", "volume"}),
		}).
		CreateInBatches(records, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save bars for %s: %w", symbol, err)
	}

	slog.Debug("Saved bars", "symbol", symbol, "count", len(records))
	return nil
}

// FetchBars returns the stored bars of symbol in [from, to], oldest first.
func (r *Repository) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	var records []BarRecord
	err := r.db.WithContext(ctx).
		Where(`symbol = ? AND "timestamp" BETWEEN ? AND ?`, symbol, from.UTC(), to.UTC()).
		Order(`"timestamp" ASC`).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	bars := make([]types.Bar, len(records))
	for i, rec := range records {
		bars[i] = types.Bar{
			Timestamp: rec.Timestamp.UTC(),
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			AdjOpen:   rec.AdjOpen,
			AdjHigh:   rec.AdjHigh,
			AdjLow:    rec.AdjLow,
			AdjClose:  rec.AdjClose,
			Volume:    rec.Volume,
		}
	}

	slog.Info("Got bars from database", "symbol", symbol, "count", len(bars), "from", from, "to", to)
	return bars, nil
}

// SaveHistory stores every entry of h under runID, replacing a previous run
// of the same id.
func (r *Repository) SaveHistory(ctx context.Context, runID string, h backtest.History) error {
	if runID == "" {
		return errors.New("run id cannot be empty")
	}

	records := make([]SnapshotRecord, len(h.Entries))
	for i, e := range h.Entries {
		positions, err := json.Marshal(e.Snapshot.Positions)
		if err != nil {
			return fmt.Errorf("failed to encode positions at step %d: %w", i, err)
		}
		if e.Snapshot.Positions == nil {
			positions = []byte("{}")
		}
		records[i] = SnapshotRecord{
			RunID:     runID,
			Step:      i,
			BarIndex:  e.Index,
			Timestamp: e.Timestamp.UTC(),
			Cash:      e.Snapshot.Cash,
			FeesPaid:  e.Snapshot.FeesPaid,
			Valuation: e.Valuation,
			Positions: string(positions),
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&SnapshotRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear run %s: %w", runID, err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, batchSize).Error; err != nil {
			return fmt.Errorf("failed to save run %s: %w", runID, err)
		}
		slog.Info("Saved replay history", "run_id", runID, "entries", len(records))
		return nil
	})
}

// LoadHistory reads back a run saved by SaveHistory. An unknown run id gives
// an empty history.
func (r *Repository) LoadHistory(ctx context.Context, runID string) (backtest.History, error) {
	var records []SnapshotRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step ASC").
		Find(&records).Error
	if err != nil {
		return backtest.History{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	h := backtest.History{Entries: make([]backtest.HistoryEntry, len(records))}
	for i, rec := range records {
		positions := map[string]float64{}
		if err := json.Unmarshal([]byte(rec.Positions), &positions); err != nil {
			return backtest.History{}, fmt.Errorf("failed to decode positions of run %s step %d: %w", runID, rec.Step, err)
		}
		h.Entries[i] = backtest.HistoryEntry{
			Index:     rec.BarIndex,
			Timestamp: rec.Timestamp.UTC(),
			Snapshot: account.Snapshot{
				Cash:      rec.Cash,
				FeesPaid:  rec.FeesPaid,
				Positions: positions,
			},
			Valuation: rec.Valuation,
		}
		h.FeesPaid = rec.FeesPaid
	}
	return h, nil
}

// Mirror wraps src so every bar it returns is also upserted into the repository.
func (r *Repository) Mirror(src dataset.BarSource) dataset.BarSource {
	return &mirror{repo: r, src: src}
}

type mirror struct {
	repo *Repository
	src  dataset.BarSource
}

func (m *mirror) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	bars, err := m.src.FetchBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if err := m.repo.SaveBars(ctx, symbol, bars); err != nil {
		return nil, err
	}
	return bars, nil
}
