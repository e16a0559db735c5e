package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/clipmint/clipmint-backend/pkg/enums"
)

// Entitlement records a buyer wallet's durable right to a video after a
// verified on-ledger payment. At most one row may exist per
// (video_id, buyer_wallet); the unique index closes the check-then-write race
// between concurrent settlement attempts.
//
// All amounts are lamports stored as exact integers.
type Entitlement struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	VideoID              string                  `gorm:"column:video_id;not null;uniqueIndex:uq_entitlements_video_buyer"`
	BuyerWallet          string                  `gorm:"column:buyer_wallet;not null;uniqueIndex:uq_entitlements_video_buyer"`
	CreatorWallet        string                  `gorm:"column:creator_wallet;not null"`
	AmountPaid           int64                   `gorm:"column:amount_paid;not null"`
	PlatformFee          int64                   `gorm:"column:platform_fee;not null"`
	CreatorPayout        int64                   `gorm:"column:creator_payout;not null"`
	TransactionSignature string                  `gorm:"column:transaction_signature;not null;default:''"`
	Flow                 enums.SettlementFlow    `gorm:"column:flow;not null;default:'delegated'"`
	Status               enums.EntitlementStatus `gorm:"column:status;not null;default:'pending';index"`
	FailureReason        *string                 `gorm:"column:failure_reason"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt          *time.Time              `gorm:"column:completed_at"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (Entitlement) TableName() string {
	return "entitlements"
}
