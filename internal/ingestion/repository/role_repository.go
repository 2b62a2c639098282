package repository

import (
	"errors"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// roleRepository reads job openings. Roles are owned by the wider ATS; Save exists for seeding.
type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) FindByID(id string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.Where("id = ?", id).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) ListOpenByTenant(tenantID string) ([]*domain.Role, error) {
	var roles []*domain.Role
	err := r.db.Where("tenant_id = ? AND is_open = ?", tenantID, true).Order("created_at ASC").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) Save(role *domain.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
		role.CreatedAt = time.Now()
	}
	role.UpdatedAt = time.Now()
	return r.db.Save(role).Error
}
