// Package indexer projects the escrow notification log into SQL tables for
// reporting. It is a read model; the state store stays authoritative.
package indexer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"rentescrow/core/events"
	"rentescrow/native/escrow"
	"rentescrow/observability/logging"
)

// Store writes notification records into the projection tables.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Dialector picks the gorm driver for dsn: postgres:// and postgresql:// URLs
// use the postgres driver, anything else is treated as a sqlite path or URI.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Open connects to dsn and migrates the projection tables.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", logging.RedactDSN(dsn), err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the projection tables.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: db required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Cursor returns the sequence number of the next record to apply.
func (s *Store) Cursor(ctx context.Context) (uint64, error) {
	var last EscrowEvent
	err := s.db.WithContext(ctx).Order("sequence desc").Limit(1).Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Sequence + 1, nil
}

// Apply projects rec. Records already present are skipped, so replaying a
// range is safe.
func (s *Store) Apply(ctx context.Context, rec *events.Record) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("indexer: nil record")
	}
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&EscrowEvent{}).Where("sequence = ?", rec.Sequence).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		attrs, err := json.Marshal(rec.Event.Attributes)
		if err != nil {
			return err
		}
		row := EscrowEvent{
			Sequence:   rec.Sequence,
			Type:       rec.Event.Type,
			Hash:       hex.EncodeToString(rec.Hash[:]),
			PrevHash:   hex.EncodeToString(rec.PrevHash[:]),
			Attributes: string(attrs),
			RecordedAt: s.nowFn().UTC(),
		}
		if id, ok := paymentID(rec); ok {
			row.PaymentID = &id
			if err := s.projectPayment(tx, rec, id); err != nil {
				return err
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("indexer: apply %d: %w", rec.Sequence, err)
	}
	return applied, nil
}

// Sync applies every record of log from the current cursor and returns how
// many were new.
func (s *Store) Sync(ctx context.Context, log *events.Log) (int, error) {
	from, err := s.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	records, err := log.Records(from)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		applied, err := s.Apply(ctx, rec)
		if err != nil {
			return count, err
		}
		if applied {
			count++
		}
	}
	return count, nil
}

// Payments lists projected payments, optionally filtered by status name.
func (s *Store) Payments(ctx context.Context, status string) ([]Payment, error) {
	query := s.db.WithContext(ctx).Order("id asc")
	if status = strings.TrimSpace(status); status != "" {
		parsed, err := escrow.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		query = query.Where("status = ?", parsed.String())
	}
	var out []Payment
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Events lists projected records of the given type, or all when empty.
func (s *Store) Events(ctx context.Context, eventType string) ([]EscrowEvent, error) {
	query := s.db.WithContext(ctx).Order("sequence asc")
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var out []EscrowEvent
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func paymentID(rec *events.Record) (uint64, bool) {
	switch rec.Event.Type {
	case escrow.EventTypePaymentCreated, escrow.EventTypePaymentPaid,
		escrow.EventTypePaymentReleased, escrow.EventTypePaymentRefunded:
	default:
		return 0, false
	}
	id, err := strconv.ParseUint(rec.Event.Attributes["id"], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) projectPayment(tx *gorm.DB, rec *events.Record, id uint64) error {
	attrs := rec.Event.Attributes
	now := s.nowFn().UTC()
	row := Payment{
		ID:         id,
		Payer:      attrs["payer"],
		Payee:      attrs["payee"],
		Amount:     attrs["amount"],
		Status:     attrs["status"],
		Commission: attrs["commission"],
		Net:        attrs["net"],
		CreatedSeq: rec.Sequence,
		UpdatedSeq: rec.Sequence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	updates := []string{"status", "updated_seq", "updated_at"}
	if rec.Event.Type == escrow.EventTypePaymentReleased {
		updates = append(updates, "commission", "net")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
}
