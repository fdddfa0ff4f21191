package model

import (
	"time"
)

// Slip is the local mirror of one registered warranty document. The
// ledger is the write-path authority for the on-chain fields; the mirror
// additionally tracks the owner and the warranty start date, which the
// contract does not store.
type Slip struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	ProductName   string    `json:"product_name"`
	OwnerID       string    `json:"owner_id" gorm:"index"`
	ContentHash   string    `json:"content_hash" gorm:"uniqueIndex;size:255"`
	DeviceID      string    `json:"device_id" gorm:"size:64;uniqueIndex:idx_slips_device,where:device_id <> ''"`
	WarrantyStart string    `json:"warranty_start"` // YYYY-MM-DD
	WarrantyEnd   string    `json:"warranty_end"`   // YYYY-MM-DD
	ArchiveURL    string    `json:"archive_url,omitempty" gorm:"-"`
	UploadedAt    time.Time `json:"uploaded_at" gorm:"autoCreateTime"`
}

// LedgerRecord is a warranty as the contract returns it. Not persisted
// here; dates are decoded from the on-chain unix timestamps.
type LedgerRecord struct {
	ContentHash string `json:"content_hash"`
	EndDate     string `json:"end_date"` // YYYY-MM-DD
	DeviceID    string `json:"device_id"`
	Issuer      string `json:"issuer"`
	IssueDate   int64  `json:"issue_date"` // unix seconds
}
