package usage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// usageModel is the persistence model for SQLSink.
type usageModel struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	CallID           string    `gorm:"column:call_id;size:26;uniqueIndex;not null"`
	Context          string    `gorm:"column:context;size:128;index"`
	Model            string    `gorm:"column:model;size:64"`
	TokensUsed       int64     `gorm:"column:tokens_used;not null;default:0"`
	CostEstimate     float64   `gorm:"column:cost_estimate;not null;default:0"`
	ProcessingTimeMs int64     `gorm:"column:processing_time_ms;not null;default:0"`
	Timestamp        time.Time `gorm:"column:timestamp;index;not null"`
	Outcome          string    `gorm:"column:outcome;size:16;not null"`
}

func (usageModel) TableName() string {
	return "inference_usage"
}

// SQLSink appends usage records to the inference_usage table.
type SQLSink struct {
	db *gorm.DB
}

// NewSQLSink creates a SQL sink. Call Init to create the table.
func NewSQLSink(db *gorm.DB) *SQLSink {
	return &SQLSink{db: db}
}

// Init migrates the inference_usage table.
func (s *SQLSink) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&usageModel{})
}

// Write inserts rec.
func (s *SQLSink) Write(ctx context.Context, rec Record) error {
	m := usageModel{
		CallID:           rec.CallID,
		Context:          rec.Context,
		Model:            rec.Model,
		TokensUsed:       rec.TokensUsed,
		CostEstimate:     rec.CostEstimate,
		ProcessingTimeMs: rec.ProcessingTime.Milliseconds(),
		Timestamp:        rec.Timestamp.UTC(),
		Outcome:          string(rec.Outcome),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("%w: insert: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	var rows []usageModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrSinkUnavailable, err)
	}

	out := make([]Record, 0, len(rows))
	for _, m := range rows {
		out = append(out, Record{
			CallID:         m.CallID,
			Context:        m.Context,
			Model:          m.Model,
			TokensUsed:     m.TokensUsed,
			CostEstimate:   m.CostEstimate,
			ProcessingTime: time.Duration(m.ProcessingTimeMs) * time.Millisecond,
			Timestamp:      m.Timestamp.UTC(),
			Outcome:        Outcome(m.Outcome),
		})
	}
	return out, nil
}
