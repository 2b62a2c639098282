package usecase

import (
	"context"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/queue"
)

// SyncResult summarizes one sync attempt of one mailbox connection.
type SyncResult struct {
	ConnectionID string   `json:"connection_id"`
	Processed    int      `json:"processed"`
	Imported     int      `json:"imported"`
	Skipped      int      `json:"skipped"`
	Duplicates   int      `json:"duplicates"`
	Failed       int      `json:"failed"`
	Deferred     int      `json:"deferred"`
	Errors       []string `json:"errors"`
	Cursor       *uint64  `json:"cursor,omitempty"`
	UsedFallback bool     `json:"used_fallback"`
	// Error is set when the whole connection failed (auth, provider outage).
	Error string `json:"error,omitempty"`
}

type SyncUsecase interface {
	// Sync runs one incremental sync of a connection. Message-level failures are reported in
	// SyncResult.Errors; only connection-level failures return an error.
	Sync(ctx context.Context, connectionID string) (*SyncResult, error)
	SyncTenant(ctx context.Context, tenantID string) ([]*SyncResult, error)
	SyncAllActive(ctx context.Context) ([]*SyncResult, error)
	// SyncByEmail syncs the active connection for a mailbox address, used by push notifications.
	SyncByEmail(ctx context.Context, email string, historyID uint64) (*SyncResult, error)
}

type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
)

type IngestResult struct {
	Outcome     Outcome
	RecordID    string
	CandidateID string
	Reason      string
}

type IngestUsecase interface {
	// Ingest processes one provider message exactly once per connection.
	Ingest(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, providerMessageID string) (*IngestResult, error)
	// ClassifyDeferred finishes a PENDING record whose oracle call was deferred to the queue.
	// When final is set a classification failure moves the record to FAILED.
	ClassifyDeferred(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord, final bool) (*IngestResult, error)
	// Reprocess re-runs classification (if missing) and import for a FAILED or PENDING record.
	Reprocess(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord) (*IngestResult, error)
}

type TokenUsecase interface {
	// RefreshExpiring refreshes OAuth tokens that expire within the configured window.
	RefreshExpiring(ctx context.Context) (refreshed int, failed int, err error)
}

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload interface{}, opts ...queue.Option) (string, error)
}

type MessagePayload struct {
	MessageID string `json:"messageId"`
}

type ScorePayload struct {
	CandidateID string `json:"candidateId"`
	RoleID      string `json:"roleId,omitempty"`
}
