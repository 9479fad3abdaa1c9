package domain

import "time"

// Типы записей хроники продажи.
const (
	TimelineSaleCreated     = "sale_created"
	TimelineSaleConfirmed   = "sale_confirmed"
	TimelineSaleRejected    = "sale_rejected"
	TimelineSaleCancelled   = "sale_cancelled"
	TimelinePaymentRecorded = "payment_recorded"
	TimelineLedgerPosted    = "ledger_posted"
)

// TimelineEvent описывает событие в жизненном цикле продажи.
type TimelineEvent struct {
	SaleID   string
	Type     string
	Reason   string
	Occurred time.Time
}
