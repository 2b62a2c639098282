package domain

import "time"

// ScoreRecord is the latest fit score of a candidate against a role.
type ScoreRecord struct {
	ID          string `json:"id" gorm:"primaryKey"`
	TenantID    string `json:"tenant_id" gorm:"index;not null"`
	CandidateID string `json:"candidate_id" gorm:"uniqueIndex:idx_score_candidate_role;not null"`
	RoleID      string `json:"role_id" gorm:"uniqueIndex:idx_score_candidate_role;not null"`

	OverallScore    int    `json:"overall_score"`
	SkillsScore     int    `json:"skills_score"`
	ExperienceScore int    `json:"experience_score"`
	EducationScore  int    `json:"education_score"`
	Recommendation  string `json:"recommendation"`
	Explanation     string `json:"explanation,omitempty"`

	ScoredAt  time.Time `json:"scored_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is the read-only view of a tenant's job opening that scoring needs.
type Role struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TenantID     string    `json:"tenant_id" gorm:"index;not null"`
	Title        string    `json:"title"`
	Requirements string    `json:"requirements" gorm:"type:text"`
	IsOpen       bool      `json:"is_open"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
