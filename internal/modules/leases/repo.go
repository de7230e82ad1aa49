package leases

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("lease not found")

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// Get loads a lease with its tenant, property and property manager.
func (r *Repo) Get(ctx context.Context, id string) (Lease, error) {
	var l Lease
	err := r.db.WithContext(ctx).
		Preload("Tenant").
		Preload("Property").
		Preload("Property.Manager").
		First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lease{}, ErrNotFound
	}
	return l, err
}
