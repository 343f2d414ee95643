// Package repo – GORM principal repository.
//
// GormRepository stores principals in the principals table and their contest
// set as one row per (principal_id, contest_name) in subscriptions. A save
// replaces the whole set inside a transaction, so readers never observe a
// half-written subscription list.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/contest-notifier/internal/domain"
)

// GormRepository persists principals through GORM.
type GormRepository struct {
	DB *gorm.DB
}

// NewGormRepository wraps db.
func NewGormRepository(db *gorm.DB) *GormRepository { return &GormRepository{DB: db} }

// LoadPrincipals returns every principal with its contest set, ordered by ID.
func (r *GormRepository) LoadPrincipals(ctx context.Context) ([]domain.Principal, error) {
	var ps []domain.Principal
	if err := r.DB.WithContext(ctx).Order("id asc").Find(&ps).Error; err != nil {
		return nil, err
	}
	var subs []domain.Subscription
	if err := r.DB.WithContext(ctx).Order("principal_id asc, contest_name asc").Find(&subs).Error; err != nil {
		return nil, err
	}

	byID := make(map[string][]string, len(ps))
	for _, s := range subs {
		byID[s.PrincipalID] = append(byID[s.PrincipalID], s.ContestName)
	}
	for i := range ps {
		ps[i].Contests = domain.UniqueContests(byID[ps[i].ID])
	}
	return ps, nil
}

// SavePrincipal upserts p and replaces its subscription rows atomically.
func (r *GormRepository) SavePrincipal(ctx context.Context, p domain.Principal) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := p
		row.Contests = nil
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "phone", "password_hash", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		if err := tx.Where("principal_id = ?", p.ID).Delete(&domain.Subscription{}).Error; err != nil {
			return err
		}
		names := domain.UniqueContests(p.Contests)
		if len(names) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]domain.Subscription, 0, len(names))
		for _, n := range names {
			rows = append(rows, domain.Subscription{PrincipalID: p.ID, ContestName: n, CreatedAt: now})
		}
		return tx.Omit(clause.Associations).Create(&rows).Error
	})
}
