package payments

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "Pending"
	StatusPaid    PaymentStatus = "Paid"
)

type EscrowStatus string

const (
	EscrowNone     EscrowStatus = "NONE"
	EscrowHeld     EscrowStatus = "IN_ESCROW"
	EscrowReleased EscrowStatus = "RELEASED"
)

const (
	ReleaseManual = "manual"
	ReleaseAuto   = "auto"
)

// Payment is one rent obligation for one lease. Rows are never deleted.
type Payment struct {
	ID                 string              `gorm:"type:char(36);primaryKey" json:"id"`
	LeaseID            string              `gorm:"type:char(36);not null;uniqueIndex:ux_payments_lease_id" json:"leaseId"`
	AmountDue          decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amountDue"`
	AmountPaid         decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"amountPaid"`
	DueDate            time.Time           `gorm:"not null" json:"dueDate"`
	PaymentDate        *time.Time          `json:"paymentDate"`
	PaymentStatus      PaymentStatus       `gorm:"type:varchar(16);not null;index:ix_payments_status" json:"paymentStatus"`
	EscrowStatus       EscrowStatus        `gorm:"type:varchar(16);not null;index:ix_payments_escrow,priority:1" json:"escrowStatus"`
	EscrowReleaseDate  *time.Time          `gorm:"index:ix_payments_escrow,priority:2" json:"escrowReleaseDate"`
	ExternalSessionID  *string             `gorm:"type:varchar(255);index:ix_payments_external_session" json:"externalSessionId"`
	ProviderPaymentRef *string             `gorm:"type:varchar(255)" json:"providerPaymentRef"`
	ReleasedAt         *time.Time          `json:"releasedAt"`
	ReleaseSource      *string             `gorm:"type:varchar(16)" json:"releaseSource"`
	CreatedAt          time.Time           `gorm:"not null" json:"createdAt"`
	UpdatedAt          time.Time           `gorm:"not null" json:"updatedAt"`
}

func (Payment) TableName() string { return "payments" }

// Paid returns the accumulated amount, zero when nothing was paid yet.
func (p Payment) Paid() decimal.Decimal {
	if !p.AmountPaid.Valid {
		return decimal.Zero
	}
	return p.AmountPaid.Decimal
}

// Outstanding is what is still owed; never negative.
func (p Payment) Outstanding() decimal.Decimal {
	rest := p.AmountDue.Sub(p.Paid())
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

func (p Payment) IsReleased() bool { return p.EscrowStatus == EscrowReleased }

const (
	ReceiptDirect   = "direct"
	ReceiptCheckout = "checkout"
)

// PaymentReceipt is one accepted amount. AmountPaid is the sum of a payment's receipts.
type PaymentReceipt struct {
	ID          string          `gorm:"type:char(36);primaryKey" json:"id"`
	PaymentID   string          `gorm:"type:char(36);not null;index:ix_payment_receipts_payment_id" json:"paymentId"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Source      string          `gorm:"type:varchar(16);not null" json:"source"`
	ExternalRef *string         `gorm:"type:varchar(255)" json:"externalRef"`
	CreatedAt   time.Time       `gorm:"not null" json:"createdAt"`
}

func (PaymentReceipt) TableName() string { return "payment_receipts" }

// PaymentEvent is the append-only audit trail of state transitions.
type PaymentEvent struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	PaymentID  string    `gorm:"type:char(36);not null;index:ix_payment_events_payment_id"`
	Action     string    `gorm:"type:varchar(64);not null"`
	FromStatus string    `gorm:"type:varchar(64);not null"`
	ToStatus   string    `gorm:"type:varchar(64);not null"`
	Actor      string    `gorm:"type:varchar(128);not null"`
	Note       *string   `gorm:"type:varchar(255)"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

// ProviderEvent stores every signature-valid webhook event once.
type ProviderEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Provider    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_provider_events_provider_event,priority:1"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_provider_events_provider_event,priority:2"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	PayloadJSON datatypes.JSON `gorm:"not null"`

	ReceivedAt  time.Time  `gorm:"not null"`
	ProcessedAt *time.Time
}

func (ProviderEvent) TableName() string { return "provider_events" }

// Models lists the tables owned by the payment engine, for migrations.
func Models() []any {
	return []any{&Payment{}, &PaymentReceipt{}, &PaymentEvent{}, &ProviderEvent{}}
}
