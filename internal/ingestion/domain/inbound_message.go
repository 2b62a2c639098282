package domain

import "time"

// InboundMessageRecord is the per-message processing record. (ConnectionID, ProviderMessageID) is the
// idempotency key; IMAP UIDs are only unique within one mailbox.
type InboundMessageRecord struct {
	ID                string `json:"id" gorm:"primaryKey"`
	TenantID          string `json:"tenant_id" gorm:"index;not null"`
	ConnectionID      string `json:"connection_id" gorm:"uniqueIndex:idx_message_connection_provider;not null"`
	ProviderMessageID string `json:"provider_message_id" gorm:"uniqueIndex:idx_message_connection_provider;not null"`
	ThreadID          string `json:"thread_id,omitempty"`

	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name,omitempty"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"received_at"`

	Status       MessageStatus `json:"status" gorm:"index;not null"`
	TriageAction string        `json:"triage_action,omitempty"`
	TriageReason string        `json:"triage_reason,omitempty"`

	IsJobApplication         bool   `json:"is_job_application"`
	ClassificationConfidence int    `json:"classification_confidence"`
	DetectedPosition         string `json:"detected_position,omitempty"`
	Reasoning                string `json:"reasoning,omitempty"`
	CandidateName            string `json:"candidate_name,omitempty"`
	CandidateEmail           string `json:"candidate_email,omitempty"`

	SkipReason   string     `json:"skip_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CandidateID  *string    `json:"candidate_id,omitempty"`
	Attempts     int        `json:"attempts"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Verdict is the classification outcome for a message, either synthesized from
// a triage rule or returned by the oracle.
type Verdict struct {
	IsJobApplication bool
	Confidence       int
	DetectedPosition string
	CandidateName    string
	CandidateEmail   string
	Reasoning        string
	Source           string // "rule" or "oracle"
}

func (r *InboundMessageRecord) ApplyVerdict(v Verdict) {
	r.IsJobApplication = v.IsJobApplication
	r.ClassificationConfidence = v.Confidence
	r.DetectedPosition = v.DetectedPosition
	r.Reasoning = v.Reasoning
	r.CandidateName = v.CandidateName
	r.CandidateEmail = v.CandidateEmail
}
