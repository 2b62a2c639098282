package domain

import (
	"strings"
	"time"
)

type ParseSource string

const (
	ParseSourceAI       ParseSource = "ai"
	ParseSourceFilename ParseSource = "filename_fallback"
	ParseSourceSender   ParseSource = "sender"
)

// CandidateRecord is unique per (TenantID, Email); Email is stored normalized.
type CandidateRecord struct {
	ID       string `json:"id" gorm:"primaryKey"`
	TenantID string `json:"tenant_id" gorm:"uniqueIndex:idx_candidate_tenant_email;not null"`
	Email    string `json:"email" gorm:"uniqueIndex:idx_candidate_tenant_email;not null"`

	Name            string   `json:"name"`
	Phone           string   `json:"phone,omitempty"`
	Skills          []string `json:"skills" gorm:"serializer:json"`
	ExperienceYears float64  `json:"experience_years"`
	Education       string   `json:"education,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	ResumeText      string   `json:"-" gorm:"type:text"`
	ResumeFilename  string   `json:"resume_filename,omitempty"`

	ParseSource      ParseSource `json:"parse_source"`
	DetectedPosition string      `json:"detected_position,omitempty"`
	TargetRoleID     *string     `json:"target_role_id,omitempty" gorm:"index"`
	SourceMessageID  string      `json:"source_message_id" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
