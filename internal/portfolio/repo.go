package portfolio

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetPortfolio(ctx context.Context, id uint64) (*Portfolio, error) {
	var p Portfolio
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) GetAgent(ctx context.Context, id uint64) (*Agent, error) {
	var a Agent
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveAgents returns active agents in ascending id order, so fallback
// candidate order is stable across calls.
func (r *Repo) ListActiveAgents(ctx context.Context, limit int) ([]Agent, error) {
	if limit <= 0 {
		limit = 10
	}
	var agents []Agent
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Limit(limit).
		Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}
