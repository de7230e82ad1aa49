package leases

import (
	"time"

	"github.com/shopspring/decimal"
)

// Leases, properties and users are owned by the listing/leasing side of the
// marketplace. The payment engine only reads them.

const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusEnded    = "ended"
)

type User struct {
	ID    string `gorm:"type:char(36);primaryKey"`
	Email string `gorm:"type:varchar(255);not null"`
	Name  string `gorm:"type:varchar(255)"`
	Role  string `gorm:"type:varchar(32);not null"`
}

func (User) TableName() string { return "users" }

type Property struct {
	ID        string `gorm:"type:char(36);primaryKey"`
	ManagerID string `gorm:"type:char(36);not null;index:ix_properties_manager_id"`
	Name      string `gorm:"type:varchar(255)"`
	Address   string `gorm:"type:varchar(255);not null"`

	Manager User `gorm:"foreignKey:ManagerID"`
}

func (Property) TableName() string { return "properties" }

type Lease struct {
	ID         string          `gorm:"type:char(36);primaryKey"`
	TenantID   string          `gorm:"type:char(36);not null;index:ix_leases_tenant_id"`
	PropertyID string          `gorm:"type:char(36);not null;index:ix_leases_property_id"`
	Rent       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	StartDate  time.Time       `gorm:"not null"`
	EndDate    time.Time       `gorm:"not null"`
	Status     string          `gorm:"type:varchar(32);not null"`

	Tenant   User     `gorm:"foreignKey:TenantID"`
	Property Property `gorm:"foreignKey:PropertyID"`
}

func (Lease) TableName() string { return "leases" }

// IsApproved reports whether payments may be created for the lease.
func (l Lease) IsApproved() bool { return l.Status == StatusApproved }

// ManagerID is the property manager (landlord) who receives the funds.
func (l Lease) ManagerID() string { return l.Property.ManagerID }
