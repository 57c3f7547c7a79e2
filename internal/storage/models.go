package storage

import "time"

// BarRecord is one base bar of a symbol. (symbol, timestamp) is unique.
type BarRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"uniqueIndex:idx_bars_symbol_timestamp;not null"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_bars_symbol_timestamp;not null"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjOpen   float64
	AdjHigh   float64
	AdjLow    float64
	AdjClose  float64
	Volume    float64
}

func (BarRecord) TableName() string {
	return "bars"
}

// SnapshotRecord is one history entry of a replay run.
type SnapshotRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"uniqueIndex:idx_snapshots_run_step;not null"`
	Step      int       `gorm:"uniqueIndex:idx_snapshots_run_step;not null"`
	BarIndex  int       `gorm:"not null"`
	Timestamp time.Time `gorm:"not null"`
	Cash      float64
	FeesPaid  float64
	Valuation float64
	Positions string `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
}

func (SnapshotRecord) TableName() string {
	return "snapshots"
}
