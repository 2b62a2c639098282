package repository

import (
	"errors"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type candidateRepository struct {
	db *gorm.DB
}

func NewCandidateRepository(db *gorm.DB) CandidateRepository {
	return &candidateRepository{db: db}
}

func (r *candidateRepository) CreateOnce(c *domain.CandidateRecord) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Email = domain.NormalizeEmail(c.Email)
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "email"}},
		DoNothing: true,
	}).Create(c)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *candidateRepository) FindByID(id string) (*domain.CandidateRecord, error) {
	var c domain.CandidateRecord
	err := r.db.Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *candidateRepository) FindByEmail(tenantID, email string) (*domain.CandidateRecord, error) {
	var c domain.CandidateRecord
	err := r.db.Where("tenant_id = ? AND email = ?", tenantID, domain.NormalizeEmail(email)).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *candidateRepository) ListByTargetRole(roleID string) ([]*domain.CandidateRecord, error) {
	var out []*domain.CandidateRecord
	err := r.db.Where("target_role_id = ?", roleID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *candidateRepository) Update(c *domain.CandidateRecord) error {
	c.UpdatedAt = time.Now()
	return r.db.Save(c).Error
}
