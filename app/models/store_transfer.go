package models

import "time"

// StoreTransfer is the append-only audit row written once per ownership transfer.
type StoreTransfer struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StoreID      uint      `gorm:"not null;index" json:"store_id"`
	FromUserID   uint      `gorm:"not null;index" json:"from_user_id"`
	ToUserID     uint      `gorm:"not null;index:idx_store_transfers_to_created,priority:1" json:"to_user_id"`
	AdminID      uint      `gorm:"not null" json:"admin_id"`
	WasActivated bool      `gorm:"not null" json:"was_activated"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_store_transfers_to_created,priority:2" json:"created_at"`
}
