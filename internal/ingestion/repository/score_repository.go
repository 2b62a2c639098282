package repository

import (
	"time"

	"talent-inbox/internal/ingestion/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type scoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &scoreRepository{db: db}
}

func (r *scoreRepository) Upsert(score *domain.ScoreRecord) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	now := time.Now()
	if score.ScoredAt.IsZero() {
		score.ScoredAt = now
	}
	score.CreatedAt = now
	score.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "candidate_id"}, {Name: "role_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"overall_score", "skills_score", "experience_score", "education_score",
				"recommendation", "explanation", "scored_at", "updated_at",
			}),
		}).Create(score).Error
		if err != nil {
			return err
		}

		// An update keeps the stored row's identity.
		var stored domain.ScoreRecord
		err = tx.Select("id", "created_at").
			Where("candidate_id = ? AND role_id = ?", score.CandidateID, score.RoleID).
			First(&stored).Error
		if err != nil {
			return err
		}
		score.ID = stored.ID
		score.CreatedAt = stored.CreatedAt
		return nil
	})
}

func (r *scoreRepository) FindByCandidate(candidateID string) ([]*domain.ScoreRecord, error) {
	var out []*domain.ScoreRecord
	err := r.db.Where("candidate_id = ?", candidateID).Order("scored_at DESC").Find(&out).Error
	return out, err
}
