package repository

import (
	"time"

	"talent-inbox/internal/ingestion/domain"

	"golang.org/x/oauth2"
)

// ConnectionRepository stores mailbox connections. Secrets are sealed at rest and returned opened.
type ConnectionRepository interface {
	Create(conn *domain.MailboxConnection) error
	FindByID(id string) (*domain.MailboxConnection, error)
	FindByEmail(email string) (*domain.MailboxConnection, error)
	ListActive() ([]*domain.MailboxConnection, error)
	ListActiveByTenant(tenantID string) ([]*domain.MailboxConnection, error)
	// ListExpiringTokens returns active OAuth connections whose access token expires before the given time.
	ListExpiringTokens(before time.Time) ([]*domain.MailboxConnection, error)
	// UpdateSyncState records the end of a sync attempt. The cursor is only ever moved forward.
	UpdateSyncState(id string, cursor *uint64, syncedAt time.Time, syncErr string) error
	// ResetCursor replaces a cursor the provider rejected, even with a lower value.
	ResetCursor(id string, cursor uint64) error
	UpdateTokens(id string, token *oauth2.Token) error
	Deactivate(id, reason string) error
}

type MessageRepository interface {
	// CreateOnce inserts the record unless one already exists for the same connection and
	// provider message ID. Returns false when the record was a duplicate.
	CreateOnce(msg *domain.InboundMessageRecord) (bool, error)
	FindByID(id string) (*domain.InboundMessageRecord, error)
	FindByProviderID(connectionID, providerMessageID string) (*domain.InboundMessageRecord, error)
	Update(msg *domain.InboundMessageRecord) error
	Delete(id string) error
	CountByStatus(tenantID string) (map[domain.MessageStatus]int64, error)
}

type CandidateRepository interface {
	// CreateOnce inserts the candidate unless the tenant already has one with the same email.
	CreateOnce(c *domain.CandidateRecord) (bool, error)
	FindByID(id string) (*domain.CandidateRecord, error)
	FindByEmail(tenantID, email string) (*domain.CandidateRecord, error)
	ListByTargetRole(roleID string) ([]*domain.CandidateRecord, error)
	Update(c *domain.CandidateRecord) error
}

type ScoreRepository interface {
	// Upsert keeps one score per (candidate, role); the latest write wins.
	Upsert(score *domain.ScoreRecord) error
	FindByCandidate(candidateID string) ([]*domain.ScoreRecord, error)
}

type RoleRepository interface {
	FindByID(id string) (*domain.Role, error)
	ListOpenByTenant(tenantID string) ([]*domain.Role, error)
	Save(role *domain.Role) error
}
