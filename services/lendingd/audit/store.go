package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"moneymarket/core/events"
	"moneymarket/core/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Record is one committed protocol event.
type Record struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Height     uint64 `gorm:"index"`
	Type       string `gorm:"index;not null"`
	Market     string `gorm:"index"`
	Attributes string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of gorm naming strategy.
func (Record) TableName() string { return "audit_events" }

// Filter narrows List. Records are returned in commit order starting after
// AfterID.
type Filter struct {
	Type    string
	Market  string
	AfterID uint64
	Limit   int
}

// Store is the append-only audit log of committed events.
type Store struct {
	db     *gorm.DB
	height func() uint64
	logger *slog.Logger
}

// Open connects to the database at dsn and migrates the schema. postgres://
// and postgresql:// URLs select PostgreSQL; anything else is a SQLite path or
// URI.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("audit: dsn required")
	}
	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// SetHeight installs the clock stamped on emitted records.
func (s *Store) SetHeight(height func() uint64) { s.height = height }

// SetLogger replaces the logger used to report write failures from Emit.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Append stores evts at height in one transaction.
func (s *Store) Append(ctx context.Context, height uint64, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	records := make([]Record, 0, len(evts))
	for _, evt := range evts {
		rendered := events.Render(evt)
		if rendered == nil {
			continue
		}
		attrs, err := json.Marshal(rendered.Attributes)
		if err != nil {
			return fmt.Errorf("audit: encode %s: %w", rendered.Type, err)
		}
		market, _ := rendered.Get("market")
		records = append(records, Record{
			Height:     height,
			Type:       rendered.Type,
			Market:     market,
			Attributes: string(attrs),
		})
	}
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// Emit implements events.Emitter. Write failures are logged; the protocol
// state has already committed when events are delivered.
func (s *Store) Emit(evt events.Event) {
	var height uint64
	if s.height != nil {
		height = s.height()
	}
	if err := s.Append(context.Background(), height, evt); err != nil {
		s.logger.Error("audit append failed", "type", evt.EventType(), "error", err)
	}
}

// List returns records matching filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := s.db.WithContext(ctx).Model(&Record{}).Where("id > ?", filter.AfterID)
	if eventType := strings.TrimSpace(filter.Type); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	if market := strings.TrimSpace(filter.Market); market != "" {
		query = query.Where("market = ?", market)
	}
	var records []Record
	if err := query.Order("id asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return records, nil
}

// Decode returns the attributes of r keyed by name.
func (r Record) Decode() (map[string]string, error) {
	var attrs []types.Attribute
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[attr.Key] = attr.Value
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
