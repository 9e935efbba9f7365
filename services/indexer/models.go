package indexer

import (
	"time"

	"gorm.io/gorm"
)

// Payment is the SQL projection of an escrowed payment's latest state.
type Payment struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement:false"`
	Payer      string `gorm:"size:64;index"`
	Payee      string `gorm:"size:64;index"`
	Amount     string `gorm:"not null"`
	Status     string `gorm:"size:16;index"`
	Commission string
	Net        string
	CreatedSeq uint64
	UpdatedSeq uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EscrowEvent mirrors one notification record.
type EscrowEvent struct {
	Sequence   uint64  `gorm:"primaryKey;autoIncrement:false"`
	Type       string  `gorm:"size:64;index"`
	PaymentID  *uint64 `gorm:"index"`
	Hash       string  `gorm:"size:64;uniqueIndex"`
	PrevHash   string  `gorm:"size:64"`
	Attributes string  `gorm:"type:text"`
	RecordedAt time.Time
}

// TableName keeps the escrow prefix regardless of naming strategy.
func (EscrowEvent) TableName() string { return "escrow_events" }

// AutoMigrate creates or updates the projection tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payment{}, &EscrowEvent{})
}
