package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// PaymentSession is the provider charge covering a whole order group.
type PaymentSession struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderGroupID uuid.UUID                  `gorm:"column:order_group_id;type:uuid;not null;uniqueIndex:uniq_payment_sessions_group"`
	ProviderRef  string                     `gorm:"column:provider_ref;not null;index"`
	AmountPaise  int64                      `gorm:"column:amount_paise;not null"`
	Status       enums.PaymentSessionStatus `gorm:"column:status;type:text;not null;default:'created'"`
	ExpiresAt    time.Time                  `gorm:"column:expires_at;not null"`
	ReconciledAt *time.Time                 `gorm:"column:reconciled_at"`
	CreatedAt    time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
