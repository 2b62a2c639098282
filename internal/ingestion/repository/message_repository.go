package repository

import (
	"errors"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) CreateOnce(msg *domain.InboundMessageRecord) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	// A concurrent sync may insert the same message first; that is a duplicate, not an error.
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "provider_message_id"}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *messageRepository) FindByID(id string) (*domain.InboundMessageRecord, error) {
	var msg domain.InboundMessageRecord
	err := r.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindByProviderID(connectionID, providerMessageID string) (*domain.InboundMessageRecord, error) {
	var msg domain.InboundMessageRecord
	err := r.db.Where("connection_id = ? AND provider_message_id = ?", connectionID, providerMessageID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) Update(msg *domain.InboundMessageRecord) error {
	msg.UpdatedAt = time.Now()
	return r.db.Save(msg).Error
}

func (r *messageRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&domain.InboundMessageRecord{}).Error
}

func (r *messageRepository) CountByStatus(tenantID string) (map[domain.MessageStatus]int64, error) {
	var rows []struct {
		Status domain.MessageStatus
		Count  int64
	}
	q := r.db.Model(&domain.InboundMessageRecord{}).Select("status, COUNT(*) AS count").Group("status")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[domain.MessageStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
